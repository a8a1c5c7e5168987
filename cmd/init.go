// mason init [name], mason new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mason-build/mason/internal/msg"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "mason"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn initializes a package in an existing specified directory
func initIn(dir, name string) {
	// Mason.toml
	writefile(`[package]
name = "`+name+`"
description = "This is where I make a project."

[target]
sources = ["src/**/*.c", "src/**/*.cc", "src/**/*.cpp", "src/**/*.m", "src/**/*.mm"]
include-dirs = ["include"]
`, dir, "Mason.toml")

	mkdir(dir, "src")
	mkdir(dir, "include")

	// src/main.c
	writefile(`// You may change this to a .cc, .m or .mm file if you'd like
#include <stdio.h>
#include "greeting.h"

int main(void) {
    puts(GREETING);
    return 0;
}
`, dir, "src", "main.c")

	// include/greeting.h
	writefile(`#ifndef GREETING_H
#define GREETING_H

#define GREETING "Hello, World!"

#endif
`, dir, "include", "greeting.h")

	// .gitignore
	writefile(`build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and run.\n", color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" run "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new package in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new package in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]))
	},
}

func init() {
	// mason init subcommand
	rootCmd.AddCommand(initCmd)

	// mason new subcommand
	rootCmd.AddCommand(newCmd)
}
