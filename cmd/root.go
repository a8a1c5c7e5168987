// mason [path], mason build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mason-build/mason/internal/builder"
	"github.com/mason-build/mason/internal/msg"
)

var (
	flagProfile string
	flagJobs    int
	flagOracle  EnumValue = NewEnumValue("mtime", map[string]string{
		"mtime": "Compare file modification times (default)",
		"hash":  "Compare file content hashes",
	})
)

func makeBuilder(args []string) *builder.Builder {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target)
	if err != nil {
		msg.Fatal("%v", err)
	}
	b.SetJobs(flagJobs)
	if flagOracle.Value() == "hash" {
		b.SetOracle(builder.NewHashOracle())
	}
	return b
}

func doBuild(cmd *cobra.Command, args []string) {
	b := makeBuilder(args)
	if _, err := b.Build(flagProfile); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mason [target path]",
	Short: "Incremental builds for C, C++, Objective-C and Objective-C++",
	Long:  `Mason compiles a directory of C-family sources into one executable, recompiling only what changed.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [target path]",
	Short: "Build the package",
	Long:  `Build the package. If no target path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// mason build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagProfile, "profile", "p", "debug", "Build with the given profile")
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of concurrent compilations (default: number of CPUs)")
	cmd.Flags().Var(&flagOracle, "oracle", "Change detection to use, one of "+flagOracle.HelpString())
	cmd.RegisterFlagCompletionFunc("oracle", flagOracle.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
