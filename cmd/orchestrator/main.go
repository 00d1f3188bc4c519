// Command orchestrator runs the agent mesh's async job engine: it accepts
// agent invocations, stages their input files through the ESB, dispatches
// to a compile-time handler registry, and delivers a terminal-state
// callback once a job finishes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Agent mesh orchestrator: async job engine",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to JSON config file (optional, env vars and flags override)")

	rootCmd.AddCommand(serveCmd(), registerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
