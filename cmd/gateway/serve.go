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
	"github.com/agentmesh/mesh/internal/gatewayproxy"
	"github.com/agentmesh/mesh/internal/grpcapi"
	"github.com/agentmesh/mesh/internal/httpmw"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/kvfactory"
	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/metrics"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/observability"
	"github.com/agentmesh/mesh/internal/ratelimit"
	"github.com/agentmesh/mesh/internal/routeload"
	"github.com/agentmesh/mesh/internal/routetable"
)

var publicPaths = []string{"/health", "/routes/reload", "/register"}

func serveCmd() *cobra.Command {
	var listenAddr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP (and optional gRPC) server",
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
				cfg.Gateway.ListenAddr = listenAddr
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
				ServiceName: "agentmesh-gateway",
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			defer observability.Shutdown(ctx)

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
			}

			store := kvfactory.New(cfg.Redis)
			defer store.Close()

			table, err := buildTable(store, cfg)
			if err != nil {
				return fmt.Errorf("build route table: %w", err)
			}

			limiter := ratelimit.New(store, ratelimit.Config{
				Limit:  cfg.RateLimit.Limit,
				Window: time.Duration(cfg.RateLimit.WindowSec) * time.Second,
			}, cfg.Redis.KeyPrefix)

			proxy := gatewayproxy.New(table, cfg.Gateway.APIKey, time.Duration(cfg.Gateway.RequestTimeoutSec)*time.Second)

			mux := http.NewServeMux()
			mux.HandleFunc("/health", handleHealth)
			mux.HandleFunc("/routes/reload", handleRoutesReload(table))
			mux.HandleFunc("/register", handleRegister(table))
			mux.Handle(cfg.Gateway.APIPrefix+"/", http.StripPrefix(cfg.Gateway.APIPrefix, proxy))

			handler := httpmw.Chain(mux, cfg.Gateway.APIKey, limiter, publicPaths)

			httpServer := &http.Server{
				Addr:    cfg.Gateway.ListenAddr,
				Handler: handler,
			}
			go func() {
				logging.Op().Info("gateway.http.started", "addr", cfg.Gateway.ListenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("gateway.http.failed", "error", err)
				}
			}()

			var grpcServer *grpcapi.Server
			if cfg.Gateway.GRPCAddr != "" {
				grpcServer = grpcapi.New(table, nil)
				if err := grpcServer.Start(cfg.Gateway.GRPCAddr); err != nil {
					return fmt.Errorf("start grpc server: %w", err)
				}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-sigCh:
					logging.Op().Info("gateway.shutdown_signal_received")
					if grpcServer != nil {
						grpcServer.Stop()
					}
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					httpServer.Shutdown(shutdownCtx)
					cancel()
					return nil
				case <-ticker.C:
					logging.Op().Debug("gateway.heartbeat", "routes", len(table.All()))
				}
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

// buildTable constructs the route table per cfg.Gateway.RouteSource: "kv"
// (default, backed by the shared store) or "yaml" (a static snapshot
// loaded once from cfg.Gateway.RouteYAMLPath and seeded into an in-memory
// store so Resolve/Reload behave identically either way).
func buildTable(store kv.Store, cfg *config.Config) (*routetable.Table, error) {
	if cfg.Gateway.RouteSource == "yaml" {
		routes, err := routeload.LoadFile(cfg.Gateway.RouteYAMLPath)
		if err != nil {
			return nil, err
		}
		yamlStore := kv.NewInMemoryStore()
		table := routetable.New(yamlStore, time.Second)
		ctx := context.Background()
		for _, r := range routes {
			if err := table.Add(ctx, r); err != nil {
				return nil, fmt.Errorf("seed route %s: %w", r.Key(), err)
			}
		}
		return table, nil
	}
	return routetable.New(store, 5*time.Second), nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleRoutesReload(table *routetable.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !table.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"not_ready"}`))
			return
		}
		if err := table.Reload(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"reload_failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}
}

type registerRequest struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	URL      string `json:"url"`
}

func handleRegister(table *routetable.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req registerRequest
		if err := decodeJSON(r, &req); err != nil || req.Category == "" || req.Action == "" || req.URL == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"category, action, and url are required"}`))
			return
		}
		if err := table.Add(r.Context(), model.Route{Category: req.Category, Action: req.Action, URL: req.URL}); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"register_failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}
}
