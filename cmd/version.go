package cmd

import (
	"github.com/spf13/cobra"

	"github.com/endorses/filterkit/internal/pkg/cmdutil"
	"github.com/endorses/filterkit/internal/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.OutputJSON(cmd.OutOrStdout(), version.Get())
	},
}
