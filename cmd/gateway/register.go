package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/mesh/internal/kvfactory"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/routetable"
)

func registerCmd() *cobra.Command {
	var category, action, url string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Manually register a category.action -> url route",
		RunE: func(cmd *cobra.Command, args []string) error {
			if category == "" || action == "" || url == "" {
				return fmt.Errorf("--category, --action, and --url are all required")
			}
			cfg, err := loadRunCfg()
			if err != nil {
				return err
			}
			store := kvfactory.New(cfg.Redis)
			defer store.Close()

			table := routetable.New(store, 5*time.Second)
			if err := table.Add(context.Background(), model.Route{Category: category, Action: action, URL: url}); err != nil {
				return fmt.Errorf("register route: %w", err)
			}
			fmt.Printf("registered %s.%s -> %s\n", category, action, url)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "route category")
	cmd.Flags().StringVar(&action, "action", "", "route action")
	cmd.Flags().StringVar(&url, "url", "", "upstream url")
	return cmd
}
