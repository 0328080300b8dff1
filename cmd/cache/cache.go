// Package cache provides CLI commands for the dispatch cache of a running server.
package cache

import (
	"github.com/spf13/cobra"

	"github.com/endorses/filterkit/internal/pkg/cmdutil"
	"github.com/endorses/filterkit/internal/pkg/management"
)

// CacheCmd groups the dispatch cache subcommands.
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and control the dispatch cache",
	Long: `Inspect and control the dispatch cache of a running filterkit server.

The cache remembers, per service instance and operation, which target the
last call went to. It is invalidated whenever the set of active filters
changes.`,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cache state and keys",
	Args:  cobra.NoArgs,
	Run: run(func(cmd *cobra.Command, c *management.Client) (management.CacheJSON, error) {
		return c.Cache(cmd.Context())
	}),
}

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Turn the cache on",
	Args:  cobra.NoArgs,
	Run: run(func(cmd *cobra.Command, c *management.Client) (management.CacheJSON, error) {
		return c.SetCacheActive(cmd.Context(), true)
	}),
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn the cache off; every call resolves afresh",
	Args:  cobra.NoArgs,
	Run: run(func(cmd *cobra.Command, c *management.Client) (management.CacheJSON, error) {
		return c.SetCacheActive(cmd.Context(), false)
	}),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached target",
	Args:  cobra.NoArgs,
	Run: run(func(cmd *cobra.Command, c *management.Client) (management.CacheJSON, error) {
		return c.ClearCache(cmd.Context())
	}),
}

func init() {
	cmdutil.AddConnectionFlags(CacheCmd)

	CacheCmd.AddCommand(showCmd)
	CacheCmd.AddCommand(onCmd)
	CacheCmd.AddCommand(offCmd)
	CacheCmd.AddCommand(clearCmd)
}

func run(do func(*cobra.Command, *management.Client) (management.CacheJSON, error)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := do(cmd, client)
		cmdutil.PrintResult(cmd, out, err)
	}
}
