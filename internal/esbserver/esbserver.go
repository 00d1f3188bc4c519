// Package esbserver implements the ESB's two HTTP endpoints: a chunked
// download bridge and a multipart upload bridge to an external file server.
package esbserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/metrics"
)

// Config configures the ESB's connection to the external file server.
type Config struct {
	// UploadPath is appended to server_path to form the upload URL, e.g.
	// "/upload". Leave empty to POST directly to server_path.
	UploadPath string
	// FieldName is the multipart form field name the file is attached
	// under (the wire format's <APPSOURCE>).
	FieldName string
	// BasicAuthUser/Pass enable optional basic auth on the upload POST.
	BasicAuthUser string
	BasicAuthPass string
	// Timeout bounds each outbound call to the file server.
	Timeout time.Duration
}

// Server implements the ESB's HTTP surface.
type Server struct {
	cfg    Config
	client *http.Client
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	if cfg.FieldName == "" {
		cfg.FieldName = "file"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Server{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type downloadRequest struct {
	ServerPath    string  `json:"server_path"`
	ServerFile    string  `json:"server_file"`
	LocalFilePath *string `json:"local_file_path"`
}

// HandleDownload implements POST /esb-download.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBool(w, http.StatusBadRequest, false)
		return
	}
	if req.ServerPath == "" || req.ServerFile == "" {
		writeBool(w, http.StatusBadRequest, false)
		return
	}

	upstreamURL := joinFileURL(req.ServerPath, req.ServerFile)

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		logging.Op().Error("esb.download.build_request_failed", "error", err)
		writeBool(w, http.StatusBadGateway, false)
		return
	}

	resp, err := s.client.Do(upReq)
	if err != nil {
		logging.Op().Error("esb.download.upstream_failed", "url", upstreamURL, "error", err)
		writeBool(w, http.StatusBadGateway, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Op().Warn("esb.download.upstream_status", "url", upstreamURL, "status", resp.StatusCode)
		writeBool(w, http.StatusBadGateway, false)
		return
	}

	if req.LocalFilePath == nil || *req.LocalFilePath == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		io.Copy(w, resp.Body)
		return
	}

	f, err := os.Create(*req.LocalFilePath)
	if err != nil {
		logging.Op().Error("esb.download.local_write_failed", "path", *req.LocalFilePath, "error", err)
		writeBool(w, http.StatusInternalServerError, false)
		return
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		logging.Op().Error("esb.download.local_write_failed", "path", *req.LocalFilePath, "error", err)
		writeBool(w, http.StatusInternalServerError, false)
		return
	}

	writeBool(w, http.StatusOK, true)
}

type uploadRequest struct {
	ServerPath    string `json:"server_path"`
	ServerFile    string `json:"server_file"`
	LocalFilePath string `json:"local_file_path"`
}

// HandleUpload implements POST /esb-upload.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBool(w, http.StatusBadRequest, false)
		return
	}
	if req.ServerPath == "" || req.ServerFile == "" || req.LocalFilePath == "" {
		writeBool(w, http.StatusBadRequest, false)
		return
	}

	data, err := os.ReadFile(req.LocalFilePath)
	if err != nil {
		logging.Op().Error("esb.upload.local_read_failed", "path", req.LocalFilePath, "error", err)
		writeBool(w, http.StatusBadRequest, false)
		return
	}

	boundary := fmt.Sprintf("----------7dcd52d09f4%d----------", time.Now().UnixMilli())
	prefix := []byte(
		"--" + boundary + "\r\n" +
			"Content-Disposition: form-data; name=\"" + s.cfg.FieldName + "\"; filename=\"" + req.ServerFile + "\"\r\n" +
			"Content-Type: application/octet-stream\r\n\r\n")
	suffix := []byte("\r\n--" + boundary + "--\r\n")

	body := make([]byte, 0, len(prefix)+len(data)+len(suffix))
	body = append(body, prefix...)
	body = append(body, data...)
	body = append(body, suffix...)

	uploadURL := strings.TrimRight(req.ServerPath, "/") + s.cfg.UploadPath

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		logging.Op().Error("esb.upload.build_request_failed", "error", err)
		writeBool(w, http.StatusBadGateway, false)
		return
	}
	upReq.Header.Set("Pragma", "XMLMD5")
	upReq.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	upReq.ContentLength = int64(len(body))
	if s.cfg.BasicAuthUser != "" {
		upReq.SetBasicAuth(s.cfg.BasicAuthUser, s.cfg.BasicAuthPass)
	}

	start := time.Now()
	resp, err := s.client.Do(upReq)
	if err != nil {
		logging.Op().Error("esb.upload.upstream_failed", "url", uploadURL, "error", err)
		writeBool(w, http.StatusBadGateway, false)
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	logging.Op().Info("esb.upload.complete", "url", uploadURL, "status", resp.StatusCode,
		"bytes", len(data), "duration_ms", time.Since(start).Milliseconds(), "ok", ok)
	if !ok {
		logging.Op().Warn("esb.upload.rejected", "status", resp.StatusCode, "body", string(respBody))
	}
	metrics.Global().RecordESBUpload(int64(len(data)), ok)
	writeBool(w, http.StatusOK, ok)
}

func joinFileURL(serverPath, serverFile string) string {
	return strings.TrimRight(serverPath, "/") + "/" + strings.TrimLeft(serverFile, "/")
}

func writeBool(w http.ResponseWriter, status int, v bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

