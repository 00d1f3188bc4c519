package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmesh/mesh/internal/kv"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(kv.NewInMemoryStore(), Config{Limit: 3, Window: time.Minute}, "rl")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed, got rejected (remaining=%d)", i+1, res.Remaining)
		}
	}
}

func TestAllowRejectsOverLimit(t *testing.T) {
	l := New(kv.NewInMemoryStore(), Config{Limit: 2, Window: time.Minute}, "rl")
	ctx := context.Background()

	l.Allow(ctx, "client-b")
	l.Allow(ctx, "client-b")
	res, err := l.Allow(ctx, "client-b")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected 3rd request to be rejected")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
}

func TestAllowIsolatesClients(t *testing.T) {
	l := New(kv.NewInMemoryStore(), Config{Limit: 1, Window: time.Minute}, "rl")
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "client-c"); !res.Allowed {
		t.Fatalf("client-c first request should be allowed")
	}
	if res, _ := l.Allow(ctx, "client-d"); !res.Allowed {
		t.Fatalf("client-d first request should be allowed, independent window from client-c")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := New(kv.NewInMemoryStore(), Config{Limit: 1, Window: time.Minute}, "rl")
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/docs/ocr", nil)
	req.RemoteAddr = "10.0.0.5:1234"

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Body.String() != "Too many requests" {
		t.Fatalf("body = %q, want plain text 'Too many requests'", rec2.Body.String())
	}
}

func TestMiddlewareSkipsPublicPath(t *testing.T) {
	l := New(kv.NewInMemoryStore(), Config{Limit: 1, Window: time.Minute}, "rl")
	h := Middleware(l, []string{"/healthz"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 (public path)", i+1, rec.Code)
		}
	}
}
