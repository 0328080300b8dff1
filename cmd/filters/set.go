package filters

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/endorses/filterkit/internal/pkg/cmdutil"
)

var enableCmd = &cobra.Command{
	Use:   "enable HANDLE",
	Short: "Activate a filter",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setActive(cmd, args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable HANDLE",
	Short: "Deactivate a filter",
	Long: `Deactivate a filter. The next call of each operation it overrode goes
to the next-best filter, or to the real service method if none is left.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setActive(cmd, args[0], false)
	},
}

var priorityCmd = &cobra.Command{
	Use:   "priority HANDLE PRIORITY",
	Short: "Change the priority of a filter",
	Long: `Change the priority of a filter. Higher priorities win; on a tie the
filter registered first keeps the slot.

Examples:
  filterkit filters priority 6f1c0e44-... 10`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		priority, err := strconv.Atoi(args[1])
		if err != nil {
			cmdutil.OutputError(cmd.ErrOrStderr(), fmt.Errorf("priority must be an integer: %q", args[1]), cmdutil.ExitValidationError)
			return
		}
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := client.SetPriority(cmd.Context(), args[0], priority)
		cmdutil.PrintResult(cmd, out, err)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Rescan the server's filter directory",
	Long: `Ask the server to rescan its filter directory. Plugins loaded before
are kept; new ones are added and the manifest is applied to them.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := cmdutil.ClientOrExit(cmd)
		if !ok {
			return
		}
		out, err := client.Reload(cmd.Context())
		cmdutil.PrintResult(cmd, out, err)
	},
}

func setActive(cmd *cobra.Command, handle string, active bool) {
	client, ok := cmdutil.ClientOrExit(cmd)
	if !ok {
		return
	}
	out, err := client.SetActive(cmd.Context(), handle, active)
	cmdutil.PrintResult(cmd, out, err)
}
