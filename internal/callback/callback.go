// Package callback implements the orchestrator's terminal-state callback
// delivery: a single POST with bounded exponential-backoff retries, fired
// once a job reaches a terminal status.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/observability"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries int           // default 5
	BaseDelay  time.Duration // default 1s
	Timeout    time.Duration // per-attempt timeout, default 10s
}

// DefaultConfig returns spec.md §4.8's defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 5, BaseDelay: time.Second, Timeout: 10 * time.Second}
}

// Payload is the body delivered to the callback URL.
type Payload struct {
	RequestID string      `json:"request_id"`
	Status    model.Status `json:"status"`
	Result    any         `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Sender delivers callbacks.
type Sender struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSender constructs a Sender. If cfg is the zero value, DefaultConfig is
// used.
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Sender{cfg: cfg, httpClient: &http.Client{}, logger: logger}
}

// Send delivers payload to url, retrying on any non-2xx response or
// transport error with delay base*2^(attempt-1), for up to MaxRetries
// attempts. Final failure is logged (doc_ocr.callback.giveup) and does not
// return an error to the caller: callback delivery never affects the job
// record.
func (s *Sender) Send(ctx context.Context, url string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("callback.marshal_failed", "request_id", payload.RequestID, "error", err)
		return
	}

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		ok := s.attempt(ctx, url, body)
		if ok {
			s.logger.Info("callback.delivered", "request_id", payload.RequestID, "attempt", attempt)
			return
		}

		if attempt == s.cfg.MaxRetries {
			break
		}

		delay := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	s.logger.Warn("doc_ocr.callback.giveup", "request_id", payload.RequestID, "url", url, "attempts", s.cfg.MaxRetries)
}

func (s *Sender) attempt(ctx context.Context, url string, body []byte) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	// Carry the originating request's trace across the goroutine boundary
	// the job worker already crossed (ctx was injected with it there).
	if tc := observability.ExtractTraceContext(ctx); tc.TraceParent != "" {
		req.Header.Set("traceparent", tc.TraceParent)
		if tc.TraceState != "" {
			req.Header.Set("tracestate", tc.TraceState)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
