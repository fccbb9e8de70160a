package cmd

import (
	"fmt"
	"os"

	"pulse/cmd/handlers"
)

// Execute runs the root command. Called once from main.
func Execute() {
	if err := handlers.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
