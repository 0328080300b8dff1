// Package filters provides CLI commands for remote filter management.
// Commands use the management client to talk to a running `filterkit serve`.
package filters

import (
	"github.com/spf13/cobra"

	"github.com/endorses/filterkit/internal/pkg/cmdutil"
)

// FiltersCmd groups the filter management subcommands.
var FiltersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Inspect and manage loaded filters",
	Long: `Inspect and manage the filters loaded by a running filterkit server.

Filters are addressed by handle, as printed by "filterkit filters list".
Output is JSON to stdout; errors are JSON to stderr with a non-zero exit code:
  2 server unreachable, 3 invalid input, 4 unknown filter.`,
}

func init() {
	cmdutil.AddConnectionFlags(FiltersCmd)

	FiltersCmd.AddCommand(listCmd)
	FiltersCmd.AddCommand(activeCmd)
	FiltersCmd.AddCommand(showCmd)
	FiltersCmd.AddCommand(enableCmd)
	FiltersCmd.AddCommand(disableCmd)
	FiltersCmd.AddCommand(priorityCmd)
	FiltersCmd.AddCommand(reloadCmd)
}
