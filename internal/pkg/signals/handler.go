// Package signals turns process signals into shutdown and reload requests.
package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/filterkit/internal/pkg/logger"
)

const channelBuffer = 1

// SetupHandler cancels the context on SIGINT or SIGTERM.
// Returns a cleanup function that should be called when the signal handler is no longer needed
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	sigCh := make(chan os.Signal, channelBuffer)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, initiating shutdown", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(sigCh)
		<-done
	}
}

// OnReload calls reload each time the process receives SIGHUP, until ctx
// is cancelled. Calls never overlap.
func OnReload(ctx context.Context, reload func()) (cleanup func()) {
	sigCh := make(chan os.Signal, channelBuffer)
	signal.Notify(sigCh, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case sig := <-sigCh:
				logger.Info("Received signal, reloading filters", "signal", sig.String())
				reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		<-done
	}
}
