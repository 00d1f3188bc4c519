// Package bootstrap implements the mesh's startup route registration
// (spec.md §4.11): every service that exposes actions POSTs
// {category, action, url} to the gateway's /register endpoint, retrying a
// bounded number of times on a constant delay. Registration is best-effort
// and never blocks service startup.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Route is one endpoint this service wants the gateway to forward traffic
// to.
type Route struct {
	Category string
	Action   string
	URL      string
}

// Config controls the registration retry loop.
type Config struct {
	GatewayURL  string
	MaxAttempts int
	RetryDelay  time.Duration
	Client      *http.Client
}

type registerRequest struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	URL      string `json:"url"`
}

// Register attempts to register every route with the gateway, retrying
// each one independently up to cfg.MaxAttempts times. It never returns an
// error: give-up is logged and the caller proceeds regardless.
func Register(ctx context.Context, cfg Config, routes []Route, logger *slog.Logger) {
	if cfg.GatewayURL == "" {
		return
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 15
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	for _, route := range routes {
		registerOne(ctx, cfg, client, route, logger)
	}
}

func registerOne(ctx context.Context, cfg Config, client *http.Client, route Route, logger *slog.Logger) {
	body, _ := json.Marshal(registerRequest{Category: route.Category, Action: route.Action, URL: route.URL})
	url := cfg.GatewayURL + "/register"

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := attemptRegister(ctx, client, url, body)
		if err == nil {
			logger.Info("bootstrap.register.success",
				"category", route.Category, "action", route.Action, "attempt", attempt)
			return
		}
		logger.Warn("bootstrap.register.attempt_failed",
			"category", route.Category, "action", route.Action, "attempt", attempt, "error", err)

		if attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				logger.Warn("bootstrap.register.cancelled", "category", route.Category, "action", route.Action)
				return
			case <-time.After(cfg.RetryDelay):
			}
		}
	}
	logger.Error("bootstrap.register.gave_up",
		"category", route.Category, "action", route.Action, "attempts", cfg.MaxAttempts)
}

func attemptRegister(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}
