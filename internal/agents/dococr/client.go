package dococr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// AgentResult is the outcome of an adapter invocation.
type AgentResult struct {
	OK    bool
	Data  any
	Error string
}

// Adapter is the seam between the doc-OCR handler and the agent platform.
// StubAdapter echoes staged-file metadata; RealAdapter talks to an actual
// conversation/upload/run backend. Which one is used is decided by
// agentconfig.Config.UseReal.
type Adapter interface {
	Run(ctx context.Context, localPaths []string, options map[string]any) AgentResult
}

// StubAdapter returns fabricated OCR results, used until a real agent
// platform is configured.
type StubAdapter struct{}

func (StubAdapter) Run(ctx context.Context, localPaths []string, options map[string]any) AgentResult {
	if len(localPaths) == 1 {
		p := localPaths[0]
		info, _ := os.Stat(p)
		var size int64
		if info != nil {
			size = info.Size()
		}
		return AgentResult{OK: true, Data: map[string]any{
			"agent":    "doc-ocr-agent",
			"stub":     true,
			"filename": filepath.Base(p),
			"size_bytes": size,
			"text":     "stub OCR result (real agent platform not configured)",
			"options":  options,
		}}
	}

	files := make([]map[string]any, 0, len(localPaths))
	for _, p := range localPaths {
		info, _ := os.Stat(p)
		var size int64
		if info != nil {
			size = info.Size()
		}
		files = append(files, map[string]any{"filename": filepath.Base(p), "size_bytes": size})
	}
	return AgentResult{OK: true, Data: map[string]any{
		"agent":   "doc-ocr-agent",
		"stub":    true,
		"files":   files,
		"options": options,
	}}
}

// RealAdapter implements the conversation-create -> upload -> run flow
// against a configured agent platform.
type RealAdapter struct {
	ConversationURL string
	UploadURL       string
	RunURL          string
	Authorization   string
	AppID           string
	DepartmentID    string
	Client          *http.Client
}

func NewRealAdapter(baseURL, conversationURL, uploadURL, runURL, authorization, appID, departmentID string) *RealAdapter {
	base := trimTrailingSlash(baseURL)
	if conversationURL == "" {
		conversationURL = base + "/v2/app/conversation"
	}
	if uploadURL == "" {
		uploadURL = base + "/v2/app/conversation/file/upload"
	}
	if runURL == "" {
		runURL = base + "/v2/app/conversation/runs"
	}
	return &RealAdapter{
		ConversationURL: conversationURL,
		UploadURL:       uploadURL,
		RunURL:          runURL,
		Authorization:   authorization,
		AppID:           appID,
		DepartmentID:    departmentID,
		Client:          &http.Client{Timeout: 120 * time.Second},
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (a *RealAdapter) Run(ctx context.Context, localPaths []string, options map[string]any) AgentResult {
	if a.ConversationURL == "" || a.UploadURL == "" || a.RunURL == "" {
		return AgentResult{Error: "agent urls are not configured"}
	}
	if a.Authorization == "" {
		return AgentResult{Error: "agent authorization is not configured"}
	}
	if a.AppID == "" {
		return AgentResult{Error: "agent app_id is not configured"}
	}
	if len(localPaths) == 0 {
		return AgentResult{Error: "no local files provided"}
	}

	convID, err := a.createConversation(ctx)
	if err != nil {
		return AgentResult{Error: err.Error()}
	}

	fileIDs := make([]string, 0, len(localPaths))
	for _, path := range localPaths {
		fileID, err := a.uploadFile(ctx, convID, path)
		if err != nil {
			return AgentResult{Error: err.Error()}
		}
		fileIDs = append(fileIDs, fileID)
	}

	data, err := a.run(ctx, convID, fileIDs, options)
	if err != nil {
		return AgentResult{Error: err.Error()}
	}
	return AgentResult{OK: true, Data: data}
}

func (a *RealAdapter) createConversation(ctx context.Context) (string, error) {
	payload := map[string]any{"app_id": a.AppID}
	if a.DepartmentID != "" {
		payload["department_id"] = a.DepartmentID
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ConversationURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", a.Authorization)

	resp, err := a.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("conversation create status %d", resp.StatusCode)
	}

	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ConversationID == "" {
		return "", fmt.Errorf("missing conversation_id in response")
	}
	return out.ConversationID, nil
}

func (a *RealAdapter) uploadFile(ctx context.Context, conversationID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	writer.WriteField("app_id", a.AppID)
	writer.WriteField("conversation_id", conversationID)
	if a.DepartmentID != "" {
		writer.WriteField("department_id", a.DepartmentID)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.UploadURL, buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", a.Authorization)

	resp, err := a.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("missing file id in upload response")
	}
	return out.ID, nil
}

func (a *RealAdapter) run(ctx context.Context, conversationID string, fileIDs []string, options map[string]any) (any, error) {
	payload := map[string]any{
		"app_id":          a.AppID,
		"conversation_id": conversationID,
		"file_ids":        fileIDs,
	}
	if a.DepartmentID != "" {
		payload["department_id"] = a.DepartmentID
	}
	for k, v := range options {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.RunURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", a.Authorization)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("run status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"raw": string(raw)}, nil
	}
	return data, nil
}
