package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestRegisterSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	Register(context.Background(), Config{
		GatewayURL:  srv.URL,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, []Route{{Category: "docs", Action: "ocr", URL: "http://orchestrator/agents/doc-ocr"}}, discardLogger())

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestRegisterRetriesThenGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	Register(context.Background(), Config{
		GatewayURL:  srv.URL,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, []Route{{Category: "docs", Action: "ocr", URL: "http://orchestrator/agents/doc-ocr"}}, discardLogger())

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestRegisterRecoversOnSecondAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	Register(context.Background(), Config{
		GatewayURL:  srv.URL,
		MaxAttempts: 5,
		RetryDelay:  time.Millisecond,
	}, []Route{{Category: "docs", Action: "ocr", URL: "http://orchestrator/agents/doc-ocr"}}, discardLogger())

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestRegisterNoopWhenGatewayURLEmpty(t *testing.T) {
	Register(context.Background(), Config{}, []Route{{Category: "a", Action: "b", URL: "c"}}, discardLogger())
}
