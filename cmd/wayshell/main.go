package main

import (
	"os"

	"github.com/grovetools/wayshell/cli"
	"github.com/grovetools/wayshell/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		cli.NewErrorHandler(cli.GetOptions(rootCmd).Verbose, os.Stderr).Handle(err)
		os.Exit(1)
	}
}
