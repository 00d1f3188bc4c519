package grpcapi

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentmesh/mesh/internal/jobtracker"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/model"
)

type fakeTable struct {
	added []model.Route
}

func (f *fakeTable) Add(ctx context.Context, route model.Route) error {
	f.added = append(f.added, route)
	return nil
}

func TestRegisterRouteAddsToTable(t *testing.T) {
	table := &fakeTable{}
	s := &Server{Table: table}

	req, _ := structpb.NewStruct(map[string]any{
		"category": "docs", "action": "ocr", "url": "http://orchestrator/agents/doc-ocr",
	})
	resp, err := s.registerRoute(context.Background(), req)
	if err != nil {
		t.Fatalf("registerRoute: %v", err)
	}
	if resp.GetFields()["message"].GetStringValue() != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(table.added) != 1 || table.added[0].Category != "docs" {
		t.Fatalf("route not added: %+v", table.added)
	}
}

func TestRegisterRouteRejectsMissingFields(t *testing.T) {
	s := &Server{Table: &fakeTable{}}
	req, _ := structpb.NewStruct(map[string]any{"category": "docs"})
	if _, err := s.registerRoute(context.Background(), req); err == nil {
		t.Fatal("expected error for missing action/url")
	}
}

func TestGetJobStatusReturnsUnknownForMissingJob(t *testing.T) {
	tracker := jobtracker.New(kv.NewInMemoryStore(), "test")
	s := &Server{Tracker: tracker}

	req, _ := structpb.NewStruct(map[string]any{"request_id": "does-not-exist"})
	resp, err := s.getJobStatus(context.Background(), req)
	if err != nil {
		t.Fatalf("getJobStatus: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != string(model.StatusUnknown) {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestGetJobStatusReturnsRecordedStatus(t *testing.T) {
	tracker := jobtracker.New(kv.NewInMemoryStore(), "test")
	ctx := context.Background()
	if err := tracker.SetStatus(ctx, "req-1", model.StatusRunning, nil, "", 0); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	s := &Server{Tracker: tracker}

	req, _ := structpb.NewStruct(map[string]any{"request_id": "req-1"})
	resp, err := s.getJobStatus(ctx, req)
	if err != nil {
		t.Fatalf("getJobStatus: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != string(model.StatusRunning) {
		t.Fatalf("unexpected response: %v", resp)
	}
}
