// Package filestage implements the orchestrator's input-staging pipeline:
// streaming an input file through the ESB into a local staging directory
// with incremental SHA-256 accounting, and pushing a JSON result back
// through the ESB's upload endpoint.
package filestage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmesh/mesh/internal/model"
)

// Client drives downloads and uploads through a single ESB instance.
type Client struct {
	esbBaseURL string
	httpClient *http.Client
}

// NewClient constructs a Client pointed at the given ESB base URL.
func NewClient(esbBaseURL string, timeout time.Duration) *Client {
	return &Client{
		esbBaseURL: strings.TrimRight(esbBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type esbDownloadRequest struct {
	ServerPath    string  `json:"server_path"`
	ServerFile    string  `json:"server_file"`
	LocalFilePath *string `json:"local_file_path"`
}

// Download fetches url through the ESB's /esb-download endpoint, streaming
// the response body into <stagingDir>/<requestID>/<filename>, computing its
// SHA-256 incrementally as bytes are written.
func (c *Client) Download(ctx context.Context, requestID, sourceURL, stagingDir, filename string, timeout time.Duration) (model.StagedFile, error) {
	serverPath, serverFile, err := SplitURL(sourceURL)
	if err != nil {
		return model.StagedFile{}, err
	}

	dir := filepath.Join(stagingDir, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.StagedFile{}, fmt.Errorf("create staging dir: %w", err)
	}
	dst := filepath.Join(dir, filename)

	reqBody, err := json.Marshal(esbDownloadRequest{ServerPath: serverPath, ServerFile: serverFile})
	if err != nil {
		return model.StagedFile{}, err
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.esbBaseURL+"/esb-download", bytes.NewReader(reqBody))
	if err != nil {
		return model.StagedFile{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return model.StagedFile{}, fmt.Errorf("esb-download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return model.StagedFile{}, fmt.Errorf("esb-download status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return model.StagedFile{}, fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	if err != nil {
		return model.StagedFile{}, fmt.Errorf("stream download: %w", err)
	}

	return model.StagedFile{
		RequestID: requestID,
		SourceURL: sourceURL,
		LocalPath: dst,
		SizeBytes: size,
		SHA256Hex: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// SplitURL decomposes a file URL into the ESB's {server_path, server_file}
// pair: server_path is "scheme://netloc/dir", server_file is the basename.
// It rejects URLs missing a scheme, a netloc, or a trailing filename.
func SplitURL(fileURL string) (serverPath, serverFile string, err error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid file url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid file url: %s", fileURL)
	}

	idx := strings.LastIndex(u.Path, "/")
	filename := u.Path[idx+1:]
	dir := u.Path[:idx+1]
	if idx < 0 {
		dir = ""
	}
	if filename == "" {
		return "", "", fmt.Errorf("file url missing filename: %s", fileURL)
	}
	dir = strings.TrimSuffix(dir, "/")

	return u.Scheme + "://" + u.Host + dir, filename, nil
}

type esbUploadRequest struct {
	ServerPath    string `json:"server_path"`
	ServerFile    string `json:"server_file"`
	LocalFilePath string `json:"local_file_path"`
}

// UploadJSON materialises payload as UTF-8 JSON at localFilePath, then POSTs
// it to the ESB's /esb-upload endpoint. Any non-2xx response, or an
// explicit JSON `false` body, is treated as failure.
func (c *Client) UploadJSON(ctx context.Context, serverPath, serverFile string, payload any, localFilePath string, timeout time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localFilePath), 0o755); err != nil {
		return fmt.Errorf("create upload staging dir: %w", err)
	}
	if err := os.WriteFile(localFilePath, data, 0o644); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}

	reqBody, err := json.Marshal(esbUploadRequest{ServerPath: serverPath, ServerFile: serverFile, LocalFilePath: localFilePath})
	if err != nil {
		return err
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.esbBaseURL+"/esb-upload", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("esb-upload request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("esb-upload status %d: %s", resp.StatusCode, string(body))
	}

	var ok bool
	if err := json.Unmarshal(body, &ok); err == nil && !ok {
		return fmt.Errorf("esb-upload rejected: %s", string(body))
	}
	return nil
}
