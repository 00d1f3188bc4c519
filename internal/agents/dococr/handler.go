// Package dococr implements the reference agent handler: a multi-file
// staging pipeline with a real/stub adapter branch, asynchronous execution,
// and a terminal-state callback. See spec.md §4.7.
package dococr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmesh/mesh/internal/agentruntime"
	"github.com/agentmesh/mesh/internal/callback"
	"github.com/agentmesh/mesh/internal/filestage"
	"github.com/agentmesh/mesh/internal/metrics"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/observability"
)

// Handler implements agentruntime.Handler for the doc-OCR agent.
type Handler struct {
	Staging  *filestage.Client
	Callback *callback.Sender
}

func New(staging *filestage.Client, cb *callback.Sender) *Handler {
	return &Handler{Staging: staging, Callback: cb}
}

func (h *Handler) Run(ac *agentruntime.Context, w http.ResponseWriter) {
	if ac.Request.Method == http.MethodGet {
		h.handleGet(ac, w)
		return
	}
	h.handlePost(ac, w)
}

func (h *Handler) handleGet(ac *agentruntime.Context, w http.ResponseWriter) {
	job, err := ac.Tracker.GetJob(ac.Request.Context(), ac.RequestID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{RequestID: ac.RequestID, Status: string(model.StatusUnknown)})
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, Response{RequestID: ac.RequestID, Status: string(model.StatusUnknown)})
		return
	}
	writeJSON(w, http.StatusOK, Response{RequestID: ac.RequestID, Status: string(job.Status), Result: job.Result, Error: job.Error})
}

func (h *Handler) handlePost(ac *agentruntime.Context, w http.ResponseWriter) {
	if ac.JSONBody == nil {
		writeJSON(w, http.StatusBadRequest, Response{RequestID: ac.RequestID, Error: "invalid_json"})
		return
	}

	raw, _ := json.Marshal(ac.JSONBody)
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, Response{RequestID: ac.RequestID, Error: err.Error()})
		return
	}
	fileRefs := req.AllFiles()
	if len(fileRefs) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, Response{RequestID: ac.RequestID, Error: "either 'file' or 'files' must be provided"})
		return
	}

	ctx := ac.Request.Context()
	requestID := ac.RequestID

	if job, err := ac.Tracker.GetJob(ctx, requestID); err == nil && job != nil {
		writeJSON(w, http.StatusOK, Response{RequestID: requestID, Status: string(job.Status), Result: job.Result, Error: job.Error})
		return
	}

	jobTTL := time.Duration(ac.Settings.JobTTLSec) * time.Second
	idempotencyTTL := time.Duration(ac.Settings.IdempotencyTTLSec) * time.Second

	token, err := ac.Tracker.AcquireLock(ctx, requestID, idempotencyTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{RequestID: requestID, Error: err.Error()})
		return
	}
	if token == "" {
		writeJSON(w, http.StatusOK, Response{RequestID: requestID, Status: string(model.StatusRunning)})
		return
	}

	if err := ac.Tracker.SetStatus(ctx, requestID, model.StatusReceived, nil, "", jobTTL); err != nil {
		ac.Tracker.ReleaseLock(ctx, requestID, token)
		writeJSON(w, http.StatusInternalServerError, Response{RequestID: requestID, Error: err.Error()})
		return
	}
	metrics.Global().RecordJobTransition(ac.AgentName, string(model.StatusReceived))

	ac.Logger.Info("doc_ocr.received", "request_id", requestID)

	go h.runAsync(asyncContext{
		settings:     ac.Settings,
		tracker:      ac.Tracker,
		requestID:    requestID,
		lockToken:    token,
		agentName:    ac.AgentName,
		agentConfig:  ac.AgentConfig,
		fileRefs:     fileRefs,
		options:      req.Options,
		logger:       ac.Logger,
		traceContext: observability.ExtractTraceContext(ctx),
	})

	writeJSON(w, http.StatusAccepted, Response{RequestID: requestID, Status: string(model.StatusReceived)})
}

// asyncContext carries everything the background worker needs, decoupled
// from the originating *http.Request so it safely outlives the request.
type asyncContext struct {
	settings    agentruntime.Settings
	tracker     interface {
		SetStatus(ctx context.Context, requestID string, status model.Status, result any, errMsg string, ttl time.Duration) error
		ReleaseLock(ctx context.Context, requestID, token string)
	}
	requestID   string
	lockToken   string
	agentName   string
	agentConfig interface {
		String(string) string
		FirstString(...string) string
		UseReal() bool
	}
	fileRefs []FileRef
	options  map[string]any
	logger   interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
	traceContext observability.TraceContext
}

func (h *Handler) runAsync(ac asyncContext) {
	ctx := observability.InjectTraceContext(context.Background(), ac.traceContext)
	jobTTL := time.Duration(ac.settings.JobTTLSec) * time.Second
	downloadTimeout := time.Duration(ac.settings.StagingDownloadTimeoutS) * time.Second
	uploadTimeout := time.Duration(ac.settings.ESBUploadTimeoutS) * time.Second

	var finalStatus model.Status
	var finalResult any
	var finalError string

	fail := func(errMsg string) {
		ac.tracker.SetStatus(ctx, ac.requestID, model.StatusFailed, nil, errMsg, jobTTL)
		metrics.Global().RecordJobTransition(ac.agentName, string(model.StatusFailed))
		ac.logger.Error("doc_ocr.failed", "request_id", ac.requestID, "error", errMsg)
		finalStatus, finalError = model.StatusFailed, errMsg
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Sprintf("panic: %v", r))
		}
		callbackURL := ac.agentConfig.String("callback_url")
		if callbackURL != "" {
			h.Callback.Send(ctx, callbackURL, callback.Payload{
				RequestID: ac.requestID,
				Status:    finalStatus,
				Result:    finalResult,
				Error:     finalError,
			})
		}
		ac.tracker.ReleaseLock(ctx, ac.requestID, ac.lockToken)
	}()

	ac.tracker.SetStatus(ctx, ac.requestID, model.StatusRunning, nil, "", jobTTL)
	metrics.Global().RecordJobTransition(ac.agentName, string(model.StatusRunning))
	ac.logger.Info("doc_ocr.running", "request_id", ac.requestID)

	usedNames := make(map[string]bool)
	staged := make([]model.StagedFile, 0, len(ac.fileRefs))
	for idx, ref := range ac.fileRefs {
		filename := uniqueFilename(ref, idx, usedNames)
		sf, err := h.Staging.Download(ctx, ac.requestID, ref.URL, h.stagingDir(ac), filename, downloadTimeout)
		if err != nil {
			fail(fmt.Sprintf("download_failed: %v", err))
			return
		}
		staged = append(staged, sf)
	}

	localPaths := make([]string, len(staged))
	for i, sf := range staged {
		localPaths[i] = sf.LocalPath
	}

	adapter := h.selectAdapter(ac.agentConfig)
	agentRes := adapter.Run(ctx, localPaths, ac.options)
	if !agentRes.OK {
		fail(agentRes.Error)
		return
	}

	stagedOut := make([]map[string]any, len(staged))
	for i, sf := range staged {
		stagedOut[i] = map[string]any{
			"url":        sf.SourceURL,
			"local_path": sf.LocalPath,
			"size_bytes": sf.SizeBytes,
			"sha256":     sf.SHA256Hex,
		}
	}
	resultPayload := map[string]any{"staged": stagedOut, "agent": agentRes.Data}
	ac.tracker.SetStatus(ctx, ac.requestID, model.StatusUploading, resultPayload, "", jobTTL)
	ac.logger.Info("doc_ocr.uploading", "request_id", ac.requestID)

	serverPaths := make([]string, len(ac.fileRefs))
	for i, ref := range ac.fileRefs {
		sp, _, err := filestage.SplitURL(ref.URL)
		if err != nil {
			fail(fmt.Sprintf("upload_failed: %v", err))
			return
		}
		serverPaths[i] = sp
	}
	primaryServerPath := serverPaths[0]
	if hasMultiple(serverPaths) {
		ac.logger.Warn("doc_ocr.multiple_server_paths", "request_id", ac.requestID, "server_paths", serverPaths)
	}

	uploadFilename := ac.requestID + "-result.json"
	localUploadPath := filepath.Join(h.stagingDir(ac), ac.requestID, uploadFilename)
	if err := h.Staging.UploadJSON(ctx, primaryServerPath, uploadFilename, agentRes.Data, localUploadPath, uploadTimeout); err != nil {
		fail(fmt.Sprintf("upload_failed: %v", err))
		return
	}

	resultPayload["esb_upload"] = map[string]any{"server_path": primaryServerPath, "server_file": uploadFilename}
	ac.tracker.SetStatus(ctx, ac.requestID, model.StatusSucceeded, resultPayload, "", jobTTL)
	metrics.Global().RecordJobTransition(ac.agentName, string(model.StatusSucceeded))
	ac.logger.Info("doc_ocr.succeeded", "request_id", ac.requestID)
	finalStatus, finalResult = model.StatusSucceeded, resultPayload
}

func (h *Handler) stagingDir(ac asyncContext) string {
	return ac.settings.StagingDir
}

func (h *Handler) selectAdapter(cfg interface {
	String(string) string
	FirstString(...string) string
	UseReal() bool
}) Adapter {
	if !cfg.UseReal() {
		return StubAdapter{}
	}
	return NewRealAdapter(
		cfg.FirstString("base_url", "host"),
		cfg.String("conversation_url"),
		cfg.String("upload_url"),
		cfg.String("run_url"),
		cfg.FirstString("authorization", "private_key", "secret"),
		cfg.FirstString("app_id", "appId"),
		cfg.FirstString("department_id", "departmentId"),
	)
}

func uniqueFilename(ref FileRef, idx int, used map[string]bool) string {
	name := ref.Filename
	if name == "" {
		name = path.Base(ref.URL)
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("input-%d.bin", idx+1)
		}
	}
	if used[name] {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		name = fmt.Sprintf("%s-%d%s", stem, idx+1, ext)
	}
	used[name] = true
	return name
}

func hasMultiple(paths []string) bool {
	seen := make(map[string]bool)
	for _, p := range paths {
		seen[p] = true
	}
	return len(seen) > 1
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
