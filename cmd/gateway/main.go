// Command gateway runs the agent mesh's reverse-proxy front door: route
// resolution, the shared API key check, the per-client rate limit, and
// request forwarding to whichever orchestrator or ESB instance a route
// names.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Agent mesh gateway: reverse-proxy and route table",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to JSON config file (optional, env vars and flags override)")

	rootCmd.AddCommand(serveCmd(), routesCmd(), registerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
