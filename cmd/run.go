// mason run [path]
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mason-build/mason/internal/msg"
)

func doRun(cmd *cobra.Command, args []string) {
	var target []string
	if len(args) > 0 {
		target = args[:1]
		args = args[1:] // other arguments are passed to the program
	}
	b := makeBuilder(target)
	if err := b.BuildAndRun(args, flagProfile); err != nil {
		msg.Fatal("%v", err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [target path]",
	Short: "Build and run the package",
	Long:  `Build and run the package. If no target path is given, uses "."`,
	Args:  cobra.ArbitraryArgs,
	Run:   doRun,
}

func init() {
	// mason run subcommand
	rootCmd.AddCommand(runCmd)
	addBuildFlags(runCmd)
}
