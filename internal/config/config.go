// Package config defines the mesh's central configuration: per-component
// sub-structs with JSON-file defaults, overridable by environment
// variables, mirroring the teacher's config layering.
package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// GatewayConfig configures cmd/gateway.
type GatewayConfig struct {
	ListenAddr        string `json:"listen_addr"`
	APIKey            string `json:"api_key"`
	APIPrefix         string `json:"api_prefix"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	RouteSource       string `json:"route_source"` // "kv" | "yaml"
	RouteYAMLPath     string `json:"route_yaml_path"`
	// GRPCAddr, when non-empty, starts the admin gRPC surface (route
	// registration) alongside the HTTP listener.
	GRPCAddr string `json:"grpc_addr"`
}

// OrchestratorConfig configures cmd/orchestrator.
type OrchestratorConfig struct {
	ListenAddr              string `json:"listen_addr"`
	AgentConfigFile         string `json:"agent_config_file"`
	IdempotencyTTLSec       int    `json:"idempotency_ttl_sec"`
	JobTTLSec               int    `json:"job_ttl_sec"`
	StagingDownloadTimeoutS int    `json:"staging_download_timeout_sec"`
	ESBUploadTimeoutS       int    `json:"esb_upload_timeout_sec"`
	// GRPCAddr, when non-empty, starts the admin gRPC surface (job status
	// lookup) alongside the HTTP listener.
	GRPCAddr string `json:"grpc_addr"`
}

// ESBConfig configures cmd/esb.
type ESBConfig struct {
	ListenAddr    string `json:"listen_addr"`
	UploadPath    string `json:"upload_path"`
	FieldName     string `json:"field_name"`
	BasicAuthUser string `json:"basic_auth_user"`
	BasicAuthPass string `json:"basic_auth_pass"`
	TimeoutSec    int    `json:"timeout_sec"`
}

// RedisConfig configures the shared KV store backing the route table, job
// tracker, and rate limiter.
type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	DB        int    `json:"db"`
	Password  string `json:"password"`
	KeyPrefix string `json:"key_prefix"`
	// Client selects the KV driver: "v9" (default, internal/kv.RedisStore)
	// or "legacy" (internal/kv/redistest.Store).
	Client string `json:"client"`
}

// Addr returns the redis "host:port" address.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// RateLimitConfig configures the gateway's per-client fixed window.
type RateLimitConfig struct {
	Limit     int `json:"limit"`
	WindowSec int `json:"window_sec"`
}

// CallbackConfig configures the doc-OCR callback scheduler. TimeoutSec,
// MaxRetries and BaseDelaySec set the sender's behaviour. URL is loaded
// from DOC_OCR_CALLBACK_URL but the doc-OCR handler does not read it:
// callbacks go only to an agent's own `callback_url` in its
// agentconfig.Config, and an agent without one gets no callback.
type CallbackConfig struct {
	URL          string  `json:"url"`
	TimeoutSec   int     `json:"timeout_sec"`
	MaxRetries   int     `json:"max_retries"`
	BaseDelaySec float64 `json:"base_delay_sec"`
}

// StagingConfig configures the orchestrator's local file staging area.
type StagingConfig struct {
	Dir string `json:"dir"`
}

// TracingConfig configures OpenTelemetry span export, off by default.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"` // "otlp-http" | "stdout"
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig configures the Prometheus registry. Histogram buckets use
// metrics.InitPrometheus's built-in default; spec.md defines no env var for
// overriding them per-deployment.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// ObservabilityConfig groups the mesh's tracing and metrics settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// Config is the central configuration struct embedding every component's
// settings plus the cross-service bootstrap/registration fields.
type Config struct {
	Gateway             GatewayConfig      `json:"gateway"`
	Orchestrator        OrchestratorConfig `json:"orchestrator"`
	ESB                 ESBConfig          `json:"esb"`
	Redis               RedisConfig        `json:"redis"`
	RateLimit           RateLimitConfig    `json:"rate_limit"`
	Callback            CallbackConfig     `json:"callback"`
	Staging             StagingConfig      `json:"staging"`
	ESBBaseURL          string             `json:"esb_base_url"`
	GatewayURL          string             `json:"gateway_url"`
	OrchestratorBaseURL string             `json:"orchestrator_base_url"`

	RegisterMaxAttempts  int `json:"register_max_attempts"`
	RegisterRetrySeconds int `json:"register_retry_seconds"`

	LogLevel      string              `json:"log_level"`
	LogFormat     string              `json:"log_format"`
	Observability ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns a Config with spec.md §6's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:        ":8080",
			APIPrefix:         "/api",
			RequestTimeoutSec: 15,
			RouteSource:       "kv",
		},
		Orchestrator: OrchestratorConfig{
			ListenAddr:              ":8081",
			AgentConfigFile:         "agents.json",
			IdempotencyTTLSec:       3600,
			JobTTLSec:               86400,
			StagingDownloadTimeoutS: 60,
			ESBUploadTimeoutS:       60,
		},
		ESB: ESBConfig{
			ListenAddr: ":8082",
			FieldName:  "file",
			TimeoutSec: 60,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "agentmesh",
			Client:    "v9",
		},
		RateLimit: RateLimitConfig{
			Limit:     60,
			WindowSec: 60,
		},
		Callback: CallbackConfig{
			TimeoutSec:   10,
			MaxRetries:   5,
			BaseDelaySec: 1,
		},
		Staging: StagingConfig{
			Dir: "/tmp/agentmesh/staging",
		},
		RegisterMaxAttempts:  15,
		RegisterRetrySeconds: 2,
		LogLevel:             "info",
		LogFormat:            "text",
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "agentmesh",
			},
		},
	}
}

// LoadFromFile reads a JSON config file overlaying DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies every environment variable from spec.md §6 as an
// override on top of cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GW_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("API_PREFIX"); v != "" {
		cfg.Gateway.APIPrefix = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.RequestTimeoutSec = n
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Limit = n
		}
	}
	if v := os.Getenv("ROUTE_SOURCE"); v != "" {
		cfg.Gateway.RouteSource = v
	}
	if v := os.Getenv("ROUTE_YAML_PATH"); v != "" {
		cfg.Gateway.RouteYAMLPath = v
	}
	if v := os.Getenv("GATEWAY_GRPC_ADDR"); v != "" {
		cfg.Gateway.GRPCAddr = v
	}
	if v := os.Getenv("ORCHESTRATOR_GRPC_ADDR"); v != "" {
		cfg.Orchestrator.GRPCAddr = v
	}

	if v := os.Getenv("KV_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("KV_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("KV_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("KV_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		cfg.Redis.KeyPrefix = v
	}
	if v := os.Getenv("KV_CLIENT"); v != "" {
		cfg.Redis.Client = v
	}

	if v := os.Getenv("STAGING_DIR"); v != "" {
		cfg.Staging.Dir = v
	}
	if v := os.Getenv("ESB_BASE_URL"); v != "" {
		cfg.ESBBaseURL = v
	}
	if v := os.Getenv("IDEMPOTENCY_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.IdempotencyTTLSec = n
		}
	}
	if v := os.Getenv("JOB_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.JobTTLSec = n
		}
	}
	if v := os.Getenv("AGENT_CONFIG_FILE"); v != "" {
		cfg.Orchestrator.AgentConfigFile = v
	}

	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.GatewayURL = v
	}
	if v := os.Getenv("ORCHESTRATOR_BASE_URL"); v != "" {
		cfg.OrchestratorBaseURL = v
	}
	if v := os.Getenv("REGISTER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterMaxAttempts = n
		}
	}
	if v := os.Getenv("REGISTER_RETRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRetrySeconds = n
		}
	}

	if v := os.Getenv("DOC_OCR_CALLBACK_URL"); v != "" {
		cfg.Callback.URL = v
	}
	if v := os.Getenv("DOC_OCR_CALLBACK_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Callback.TimeoutSec = n
		}
	}
	if v := os.Getenv("DOC_OCR_CALLBACK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Callback.MaxRetries = n
		}
	}
	if v := os.Getenv("DOC_OCR_CALLBACK_BASE_DELAY_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Callback.BaseDelaySec = f
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = v == "true" || v == "1"
	}
}
