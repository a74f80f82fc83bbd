package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the Cobra command for displaying the application version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the update center CLI",
		Long: `All software has versions. This command prints the version of the
updatecenter binary currently running, as set at build time via -ldflags.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "updatecenter version %s\n", rootCmd.Version)
		},
	}
}
