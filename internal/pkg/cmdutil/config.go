// Package cmdutil provides shared utilities for CLI command implementations.
package cmdutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/filterkit/internal/pkg/management"
	"github.com/endorses/filterkit/internal/pkg/monitoring"
)

// GetStringConfig returns the config value for key, or flagValue if the key is not set.
// Flag values take precedence over config file values.
func GetStringConfig(key, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}

// GetDurationConfig returns flagValue when non-zero, otherwise the config value for key.
func GetDurationConfig(key string, flagValue time.Duration) time.Duration {
	if flagValue != 0 {
		return flagValue
	}
	return viper.GetDuration(key)
}

var (
	serverAddr string
	timeout    time.Duration
)

// AddConnectionFlags adds the management server flags to a command.
func AddConnectionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", "", "Management server address (host:port or URL)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Request timeout (default 10s)")
}

// NewClient creates a management client from flags and viper settings.
func NewClient() (*management.Client, error) {
	t := GetDurationConfig("client.timeout", timeout)
	if t == 0 {
		t = 10 * time.Second
	}
	return management.NewClient(management.ClientConfig{
		Address:    GetStringConfig("management.addr", serverAddr),
		Timeout:    t,
		HTTPClient: monitoring.HTTPClient(viper.GetString("tracing.endpoint") != ""),
	})
}

// ClientOrExit is NewClient for command handlers: on failure it reports
// the error and exits with ExitConnectionError.
func ClientOrExit(cmd *cobra.Command) (*management.Client, bool) {
	client, err := NewClient()
	if err != nil {
		OutputError(cmd.ErrOrStderr(), err, ExitConnectionError)
		return nil, false
	}
	return client, true
}
