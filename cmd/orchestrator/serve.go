package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/mesh/internal/agentconfig"
	"github.com/agentmesh/mesh/internal/agentruntime"
	"github.com/agentmesh/mesh/internal/agents/dococr"
	"github.com/agentmesh/mesh/internal/bootstrap"
	"github.com/agentmesh/mesh/internal/callback"
	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/filestage"
	"github.com/agentmesh/mesh/internal/grpcapi"
	"github.com/agentmesh/mesh/internal/jobtracker"
	"github.com/agentmesh/mesh/internal/kvfactory"
	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/metrics"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/observability"
	"github.com/agentmesh/mesh/internal/routetable"
)

var publicPaths = []string{"/health", "/register"}

func serveCmd() *cobra.Command {
	var listenAddr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP (and optional gRPC) server",
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
				cfg.Orchestrator.ListenAddr = listenAddr
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
				ServiceName: "agentmesh-orchestrator",
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

			tracker := jobtracker.New(store, cfg.Redis.KeyPrefix)
			staging := filestage.NewClient(cfg.ESBBaseURL, time.Duration(cfg.Orchestrator.ESBUploadTimeoutS)*time.Second)
			cbSender := callback.NewSender(callback.Config{
				MaxRetries: cfg.Callback.MaxRetries,
				BaseDelay:  time.Duration(cfg.Callback.BaseDelaySec * float64(time.Second)),
				Timeout:    time.Duration(cfg.Callback.TimeoutSec) * time.Second,
			}, logging.Op())

			agents, err := loadAgents(cfg.Orchestrator.AgentConfigFile)
			if err != nil {
				return fmt.Errorf("load agent config: %w", err)
			}

			registry := agentruntime.NewRegistry()
			registry.Register("doc_ocr", dococr.New(staging, cbSender))

			settings := agentruntime.Settings{
				StagingDir:              cfg.Staging.Dir,
				ESBBaseURL:              cfg.ESBBaseURL,
				StagingDownloadTimeoutS: cfg.Orchestrator.StagingDownloadTimeoutS,
				ESBUploadTimeoutS:       cfg.Orchestrator.ESBUploadTimeoutS,
				IdempotencyTTLSec:       cfg.Orchestrator.IdempotencyTTLSec,
				JobTTLSec:               cfg.Orchestrator.JobTTLSec,
				CallbackTimeoutSec:      cfg.Callback.TimeoutSec,
				CallbackMaxRetries:      cfg.Callback.MaxRetries,
				CallbackBaseDelaySec:    cfg.Callback.BaseDelaySec,
			}

			for name, cfg := range agents {
				logging.Op().Info("orchestrator.agent_config.loaded", "name", name, "config", cfg.Masked())
			}

			agentTable := routetable.New(store, 5*time.Second)

			dispatcher := &agentDispatcher{
				registry: registry,
				agents:   agents,
				tracker:  tracker,
				settings: settings,
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/health", handleHealth)
			mux.HandleFunc("/register", handleRegister(agentTable))
			mux.HandleFunc("/agent-configs", handleAgentConfigs(agents))
			mux.HandleFunc("/agent-configs/", handleAgentConfigs(agents))
			mux.HandleFunc("/agents/", dispatcher.serveAgent)
			mux.HandleFunc("/api/agents/", proxyAgent(agents, agentTable))

			httpServer := &http.Server{
				Addr:    cfg.Orchestrator.ListenAddr,
				Handler: observability.HTTPMiddleware(mux),
			}
			go func() {
				logging.Op().Info("orchestrator.http.started", "addr", cfg.Orchestrator.ListenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("orchestrator.http.failed", "error", err)
				}
			}()

			var grpcServer *grpcapi.Server
			if cfg.Orchestrator.GRPCAddr != "" {
				grpcServer = grpcapi.New(nil, tracker)
				if err := grpcServer.Start(cfg.Orchestrator.GRPCAddr); err != nil {
					return fmt.Errorf("start grpc server: %w", err)
				}
			}

			go bootstrap.Register(ctx, bootstrap.Config{
				GatewayURL:  cfg.GatewayURL,
				MaxAttempts: cfg.RegisterMaxAttempts,
				RetryDelay:  time.Duration(cfg.RegisterRetrySeconds) * time.Second,
			}, agentRoutes(agents, cfg.OrchestratorBaseURL), logging.Op())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-sigCh:
					logging.Op().Info("orchestrator.shutdown_signal_received")
					if grpcServer != nil {
						grpcServer.Stop()
					}
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					httpServer.Shutdown(shutdownCtx)
					cancel()
					return nil
				case <-ticker.C:
					logging.Op().Debug("orchestrator.heartbeat", "agents", len(agents))
				}
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func loadAgents(path string) (agentconfig.Map, error) {
	if path == "" {
		return agentconfig.Map{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return agentconfig.Map{}, nil
	}
	return agentconfig.LoadFile(path)
}

// agentRoutes builds the set of routes this orchestrator registers with
// the gateway at startup: one "agents.<name> -> <selfURL>/agents/<name>"
// entry per configured agent.
func agentRoutes(agents agentconfig.Map, selfBaseURL string) []bootstrap.Route {
	if selfBaseURL == "" {
		return nil
	}
	routes := make([]bootstrap.Route, 0, len(agents))
	for name := range agents {
		routes = append(routes, bootstrap.Route{
			Category: "agents",
			Action:   name,
			URL:      strings.TrimRight(selfBaseURL, "/") + "/agents/" + name,
		})
	}
	return routes
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleRegister mirrors the gateway's /register endpoint so sibling
// services can register an agent's ingress route directly against the
// orchestrator: the posted {category, action, url} is persisted into the
// same kind of route table the gateway uses, and proxyAgent consults it
// for any agent name not present in the static agent config file.
func handleRegister(table *routetable.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Category string `json:"category"`
			Action   string `json:"action"`
			URL      string `json:"url"`
		}
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
		logging.Op().Info("orchestrator.register", "category", req.Category, "action", req.Action)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}
}

// handleAgentConfigs serves the masked agent-config listing: "" lists every
// configured agent, "/{name}" returns a single one. Secret-like fields
// (authorization, tokens, keys) are masked before the response is built.
func handleAgentConfigs(agents agentconfig.Map) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/agent-configs")
		name = strings.Trim(name, "/")

		w.Header().Set("Content-Type", "application/json")
		if name == "" {
			masked := make(map[string]agentconfig.Config, len(agents))
			for n, cfg := range agents {
				masked[n] = cfg.Masked()
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": masked})
			return
		}

		cfg, ok := agents[name]
		if !ok {
			logging.Op().Warn("orchestrator.agent_config.missing", "name", name)
			writeJSONError(w, http.StatusNotFound, "agent_config_not_found")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": cfg.Masked()})
	}
}

type agentDispatcher struct {
	registry *agentruntime.Registry
	agents   agentconfig.Map
	tracker  *jobtracker.Tracker
	settings agentruntime.Settings
}

func (d *agentDispatcher) serveAgent(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/agents/")
	name = strings.Trim(name, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	cfg := d.agents[name]
	handlerName := cfg.Handler(name)
	h, ok := d.registry.Resolve(handlerName)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "agent_handler_missing")
		return
	}

	var jsonBody map[string]any
	rawBody, _ := io.ReadAll(r.Body)
	r.Body.Close()
	if len(rawBody) > 0 {
		json.Unmarshal(rawBody, &jsonBody)
	}

	requestID := r.URL.Query().Get("request_id")
	if requestID == "" && jsonBody != nil {
		if v, ok := jsonBody["request_id"].(string); ok {
			requestID = v
		}
	}
	requestID = d.tracker.EnsureRequestID(requestID)

	ac := &agentruntime.Context{
		Request:     r,
		Settings:    d.settings,
		Tracker:     d.tracker,
		RequestID:   requestID,
		AgentName:   name,
		AgentConfig: cfg,
		JSONBody:    jsonBody,
		RawBody:     rawBody,
		Logger:      logging.OpWithTrace(observability.GetTraceID(r.Context()), observability.GetSpanID(r.Context())),
	}
	h.Run(ac, w)
}

// proxyAgent implements the secondary "/api/agents/{name}" surface: a
// direct reverse-proxy to the agent's own base_url/host, with the
// per-agent header and query overlays from its config layered on. An agent
// name absent from the static config falls back to whatever a sibling
// service registered dynamically via /register.
func proxyAgent(agents agentconfig.Map, table *routetable.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/agents/")
		name = strings.Trim(name, "/")
		cfg := agents[name]
		target := cfg.FirstString("base_url", "host")
		if target == "" {
			if resolved, err := table.Resolve("agents", name); err == nil {
				target = resolved
			}
		}
		if target == "" {
			writeJSONError(w, http.StatusNotFound, "unknown_agent")
			return
		}
		targetURL, err := url.Parse(target)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, "invalid_agent_url")
			return
		}

		headers := cfg.Headers()
		query := cfg.Query()

		proxy := httputil.NewSingleHostReverseProxy(targetURL)
		proxy.Director = func(req *http.Request) {
			req.URL.Scheme = targetURL.Scheme
			req.URL.Host = targetURL.Host
			req.URL.Path = targetURL.Path
			req.Host = targetURL.Host
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			if len(query) > 0 {
				q := req.URL.Query()
				for k, v := range query {
					q.Set(k, v)
				}
				req.URL.RawQuery = q.Encode()
			}
		}
		proxy.ServeHTTP(w, r)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
