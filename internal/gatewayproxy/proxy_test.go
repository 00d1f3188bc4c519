package gatewayproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/routetable"
)

func newTable(t *testing.T, routes ...model.Route) *routetable.Table {
	t.Helper()
	store := kv.NewInMemoryStore()
	tbl := routetable.New(store, time.Second)
	for _, r := range routes {
		if err := tbl.Add(context.Background(), r); err != nil {
			t.Fatalf("Add route: %v", err)
		}
	}
	return tbl
}

func TestProxyForwards2xxAsOkEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Host") != "" {
			t.Errorf("Host header should not be forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer upstream.Close()

	tbl := newTable(t, model.Route{Category: "docs", Action: "ocr", URL: upstream.URL})
	p := New(tbl, "", time.Second)

	req := httptest.NewRequest(http.MethodPost, "/docs/ocr", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var env model.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != 0 || env.Message != "ok" {
		t.Fatalf("envelope = %+v, want code=0 message=ok", env)
	}
}

func TestProxyMapsUpstream4xxToBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer upstream.Close()

	tbl := newTable(t, model.Route{Category: "docs", Action: "ocr", URL: upstream.URL})
	p := New(tbl, "", time.Second)

	req := httptest.NewRequest(http.MethodPost, "/docs/ocr", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var env model.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Message != "upstream_error" {
		t.Fatalf("message = %q, want upstream_error", env.Message)
	}
}

func TestProxyUnknownRouteReturns404(t *testing.T) {
	tbl := newTable(t)
	p := New(tbl, "", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/missing/action", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProxyRejectsMismatchedAPIKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	tbl := newTable(t, model.Route{Category: "docs", Action: "ocr", URL: upstream.URL})
	p := New(tbl, "secret", time.Second)

	req := httptest.NewRequest(http.MethodPost, "/docs/ocr", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProxyTimesOutOnSlowUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	tbl := newTable(t, model.Route{Category: "docs", Action: "ocr", URL: upstream.URL})
	p := New(tbl, "", 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/docs/ocr", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestProxyWrapsScalarResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"a plain string"`))
	}))
	defer upstream.Close()

	tbl := newTable(t, model.Route{Category: "docs", Action: "ocr", URL: upstream.URL})
	p := New(tbl, "", time.Second)

	req := httptest.NewRequest(http.MethodPost, "/docs/ocr", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	var env model.Envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want map", env.Data)
	}
	if data["value"] != "a plain string" {
		t.Fatalf("data[value] = %v, want wrapped scalar", data["value"])
	}
}
