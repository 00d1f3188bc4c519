// Command esb runs the file-server bridge: a chunked download endpoint and
// a synthetic-multipart upload endpoint that relay the orchestrator's
// staging traffic to an external file server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/esbserver"
	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/metrics"
	"github.com/agentmesh/mesh/internal/observability"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "esb",
		Short: "Agent mesh ESB bridge: file download/upload relay",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to JSON config file (optional, env vars and flags override)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var listenAddr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ESB HTTP server",
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

			if cmd.Flags().Changed("listen") {
				cfg.ESB.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.LogLevel)
			logging.InitStructured(cfg.LogFormat, cfg.LogLevel)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: "agentmesh-esb",
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			defer observability.Shutdown(ctx)

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
			}

			server := esbserver.New(esbserver.Config{
				UploadPath:    cfg.ESB.UploadPath,
				FieldName:     cfg.ESB.FieldName,
				BasicAuthUser: cfg.ESB.BasicAuthUser,
				BasicAuthPass: cfg.ESB.BasicAuthPass,
				Timeout:       time.Duration(cfg.ESB.TimeoutSec) * time.Second,
			})

			mux := http.NewServeMux()
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"ok"}`))
			})
			mux.HandleFunc("/esb-download", server.HandleDownload)
			mux.HandleFunc("/esb-upload", server.HandleUpload)

			httpServer := &http.Server{
				Addr:    cfg.ESB.ListenAddr,
				Handler: observability.HTTPMiddleware(mux),
			}
			go func() {
				logging.Op().Info("esb.http.started", "addr", cfg.ESB.ListenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("esb.http.failed", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-sigCh:
					logging.Op().Info("esb.shutdown_signal_received")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					httpServer.Shutdown(shutdownCtx)
					cancel()
					return nil
				case <-ticker.C:
					logging.Op().Debug("esb.heartbeat")
				}
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}
