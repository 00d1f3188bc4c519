package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/mesh/internal/bootstrap"
	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/logging"
)

// registerCmd lets an operator manually re-run the startup registration
// routine without restarting the orchestrator, e.g. after editing the
// agent config file or the gateway's route table was flushed.
func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register every configured agent's route with the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				loaded, err := config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			config.LoadFromEnv(cfg)

			agents, err := loadAgents(cfg.Orchestrator.AgentConfigFile)
			if err != nil {
				return fmt.Errorf("load agent config: %w", err)
			}
			routes := agentRoutes(agents, cfg.OrchestratorBaseURL)
			if len(routes) == 0 {
				fmt.Println("no agent routes to register (check GATEWAY_URL, ORCHESTRATOR_BASE_URL, AGENT_CONFIG_FILE)")
				return nil
			}

			bootstrap.Register(context.Background(), bootstrap.Config{
				GatewayURL:  cfg.GatewayURL,
				MaxAttempts: cfg.RegisterMaxAttempts,
				RetryDelay:  time.Duration(cfg.RegisterRetrySeconds) * time.Second,
			}, routes, logging.Op())

			fmt.Printf("registered %d agent route(s) with %s\n", len(routes), cfg.GatewayURL)
			return nil
		},
	}
	return cmd
}
