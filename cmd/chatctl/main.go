package main

import (
	"fmt"
	"os"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/app"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Operate the chat turn engine",
	Long:          "Maintenance commands for the chat service: seed topics, force summaries, reap abandoned turns and inspect sessions.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(seedTopicsCmd(), summarizeCmd(), reapPendingCmd(), statsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openContainer loads the environment and wires services the same way the server does
func openContainer() (*app.Container, error) {
	if err := config.LoadENV(); err != nil {
		return nil, err
	}
	env, err := config.Get()
	if err != nil {
		return nil, err
	}
	return app.Build(env)
}
