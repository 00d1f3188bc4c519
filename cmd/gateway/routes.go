package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/kvfactory"
	"github.com/agentmesh/mesh/internal/routetable"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect or reload the gateway route table",
	}
	cmd.AddCommand(routesListCmd(), routesReloadCmd())
	return cmd
}

func loadRunCfg() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func routesListCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every registered category.action -> url route",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunCfg()
			if err != nil {
				return err
			}
			store := kvfactory.New(cfg.Redis)
			defer store.Close()

			table := routetable.New(store, 5*time.Second)
			routes := table.All()

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(routes)
			}

			keys := make([]string, 0, len(routes))
			for k := range routes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-40s %s\n", k, routes[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print as JSON instead of a table")
	return cmd
}

func routesReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Force the route table to reread the backing KV hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunCfg()
			if err != nil {
				return err
			}
			store := kvfactory.New(cfg.Redis)
			defer store.Close()

			table := routetable.New(store, 5*time.Second)
			if err := table.Reload(context.Background()); err != nil {
				return fmt.Errorf("reload routes: %w", err)
			}
			fmt.Printf("reloaded %d routes\n", len(table.All()))
			return nil
		},
	}
	return cmd
}
