package callback

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentmesh/mesh/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSendRetriesUntilGiveUp(t *testing.T) {
	var attempts int64
	var timestamps []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		timestamps = append(timestamps, time.Now())
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, Timeout: time.Second}
	sender := NewSender(cfg, discardLogger())

	start := time.Now()
	sender.Send(context.Background(), srv.URL, Payload{RequestID: "R1", Status: model.StatusFailed})

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected cumulative delay >= 0.01+0.02s, elapsed %v", time.Since(start))
	}
}

func TestSendSucceedsOnFirstAttempt(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(Config{MaxRetries: 5, BaseDelay: time.Millisecond, Timeout: time.Second}, discardLogger())
	sender.Send(context.Background(), srv.URL, Payload{RequestID: "R2", Status: model.StatusSucceeded})

	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}
