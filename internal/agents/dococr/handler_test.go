package dococr

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmesh/mesh/internal/agentconfig"
	"github.com/agentmesh/mesh/internal/agentruntime"
	"github.com/agentmesh/mesh/internal/callback"
	"github.com/agentmesh/mesh/internal/esbserver"
	"github.com/agentmesh/mesh/internal/filestage"
	"github.com/agentmesh/mesh/internal/jobtracker"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture wires an upstream file host, an ESB proxying to it, a
// filestage.Client pointed at the ESB, and an in-memory job tracker.
func newFixture(t *testing.T) (h *Handler, tracker *jobtracker.Tracker, fileURL string) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/files/input.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	})
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if got := r.Header.Get("Pragma"); got != "XMLMD5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	esb := esbserver.New(esbserver.Config{UploadPath: "", Timeout: 5 * time.Second})
	esbMux := http.NewServeMux()
	esbMux.HandleFunc("/esb-download", esb.HandleDownload)
	esbMux.HandleFunc("/esb-upload", esb.HandleUpload)
	esbSrv := httptest.NewServer(esbMux)
	t.Cleanup(esbSrv.Close)

	staging := filestage.NewClient(esbSrv.URL, 5*time.Second)
	store := kv.NewInMemoryStore()
	tracker = jobtracker.New(store, "dococr-test")
	sender := callback.NewSender(callback.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Timeout: time.Second}, discardLogger())

	h = New(staging, sender)
	fileURL = upstream.URL + "/files/input.txt"
	return h, tracker, fileURL
}

func newPostContext(stagingDir string, tracker *jobtracker.Tracker, requestID string, body map[string]any, agentCfg agentconfig.Config) *agentruntime.Context {
	req := httptest.NewRequest(http.MethodPost, "/agents/doc-ocr", nil)
	return &agentruntime.Context{
		Request: req,
		Settings: agentruntime.Settings{
			StagingDir:              stagingDir,
			StagingDownloadTimeoutS: 5,
			ESBUploadTimeoutS:       5,
			IdempotencyTTLSec:       60,
			JobTTLSec:               60,
		},
		Tracker:     tracker,
		RequestID:   requestID,
		AgentName:   "doc-ocr",
		AgentConfig: agentCfg,
		JSONBody:    body,
		Logger:      discardLogger(),
	}
}

func waitForTerminal(t *testing.T, tracker *jobtracker.Tracker, requestID string) *model.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tracker.GetJob(context.Background(), requestID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for terminal status for %s", requestID)
	return nil
}

func TestHandlePostStubPipelineSucceeds(t *testing.T) {
	h, tracker, fileURL := newFixture(t)
	ac := newPostContext(t.TempDir(), tracker, "req-1", map[string]any{
		"file": map[string]any{"url": fileURL},
	}, agentconfig.Config{})

	rec := httptest.NewRecorder()
	h.Run(ac, rec)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	job := waitForTerminal(t, tracker, ac.RequestID)
	if job.Status != model.StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED (error=%s)", job.Status, job.Error)
	}
}

func TestHandlePostMultiFilePipelineSucceeds(t *testing.T) {
	h, tracker, fileURL := newFixture(t)
	ac := newPostContext(t.TempDir(), tracker, "req-multi", map[string]any{
		"files": []map[string]any{
			{"url": fileURL},
			{"url": fileURL, "filename": "copy.txt"},
		},
	}, agentconfig.Config{})

	rec := httptest.NewRecorder()
	h.Run(ac, rec)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	job := waitForTerminal(t, tracker, ac.RequestID)
	if job.Status != model.StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED (error=%s)", job.Status, job.Error)
	}
}

func TestHandlePostRejectsEmptyFileList(t *testing.T) {
	h, tracker, _ := newFixture(t)
	ac := newPostContext(t.TempDir(), tracker, "req-empty", map[string]any{}, agentconfig.Config{})

	rec := httptest.NewRecorder()
	h.Run(ac, rec)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandlePostContentionReturnsRunning(t *testing.T) {
	h, tracker, fileURL := newFixture(t)
	requestID := "req-contended"

	if _, err := tracker.AcquireLock(context.Background(), requestID, time.Minute); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	ac := newPostContext(t.TempDir(), tracker, requestID, map[string]any{
		"file": map[string]any{"url": fileURL},
	}, agentconfig.Config{})

	rec := httptest.NewRecorder()
	h.Run(ac, rec)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandlePostReplaysExistingRecord(t *testing.T) {
	h, tracker, fileURL := newFixture(t)
	requestID := "req-replay"

	if err := tracker.SetStatus(context.Background(), requestID, model.StatusSucceeded, map[string]any{"already": true}, "", time.Minute); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	ac := newPostContext(t.TempDir(), tracker, requestID, map[string]any{
		"file": map[string]any{"url": fileURL},
	}, agentconfig.Config{})

	rec := httptest.NewRecorder()
	h.Run(ac, rec)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (replay, not a fresh 202)", rec.Code)
	}
}

func TestHandleGetUnknownReturnsUnknownStatus(t *testing.T) {
	_, tracker, _ := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/doc-ocr", nil)
	h := New(nil, nil)
	ac := &agentruntime.Context{
		Request:   req,
		Tracker:   tracker,
		RequestID: "never-seen",
		Logger:    discardLogger(),
	}

	rec := httptest.NewRecorder()
	h.Run(ac, rec)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUniqueFilenameDeduplicates(t *testing.T) {
	used := map[string]bool{}
	a := uniqueFilename(FileRef{URL: "http://x/a.txt"}, 0, used)
	b := uniqueFilename(FileRef{URL: "http://x/a.txt"}, 1, used)
	if a == b {
		t.Fatalf("expected distinct filenames, got %q twice", a)
	}
}
