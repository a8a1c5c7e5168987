package main

import "github.com/mason-build/mason/cmd"

func main() {
	cmd.Execute()
}
