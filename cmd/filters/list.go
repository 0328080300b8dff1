package filters

import (
	"github.com/spf13/cobra"

	"github.com/endorses/filterkit/internal/pkg/cmdutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every loaded filter",
	Long: `List every loaded filter, active or not, ordered by description and
priority.

Examples:
  filterkit filters list --addr localhost:9464`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := client.List(cmd.Context())
		cmdutil.PrintResult(cmd, out, err)
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the filter chosen for each contract operation",
	Long: `Show the active view: for each "<contract>.<operation>" key, the
highest-priority active filter that overrides it.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := client.Active(cmd.Context())
		cmdutil.PrintResult(cmd, out, err)
	},
}

var showCmd = &cobra.Command{
	Use:   "show HANDLE",
	Short: "Show one filter",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := client.Get(cmd.Context(), args[0])
		cmdutil.PrintResult(cmd, out, err)
	},
}
