// mason clean [path]
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mason-build/mason/internal/builder"
	"github.com/mason-build/mason/internal/msg"
)

func doClean(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.Clean(); err != nil {
		msg.Fatal("%v", err)
	}
	msg.Info("cleaned build artifacts")
}

var cleanCmd = &cobra.Command{
	Use:   "clean [target path]",
	Short: "Delete build artifacts and dependency records",
	Long:  `Delete all object files, dependency records and the executable, forcing the next build to start from scratch.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doClean,
}

func init() {
	// mason clean subcommand
	rootCmd.AddCommand(cleanCmd)
}
