package esbserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHandleDownloadStreams(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file contents"))
	}))
	defer upstream.Close()

	s := New(Config{Timeout: time.Second})
	body, _ := json.Marshal(map[string]any{"server_path": upstream.URL, "server_file": "doc.pdf"})

	req := httptest.NewRequest(http.MethodPost, "/esb-download", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleDownload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "file contents" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHandleDownloadMissingFields(t *testing.T) {
	s := New(Config{Timeout: time.Second})
	body, _ := json.Marshal(map[string]any{"server_path": ""})
	req := httptest.NewRequest(http.MethodPost, "/esb-download", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleDownload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDownloadToLocalPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes-on-disk"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "out.bin")

	s := New(Config{Timeout: time.Second})
	body, _ := json.Marshal(map[string]any{
		"server_path":     upstream.URL,
		"server_file":     "f.bin",
		"local_file_path": local,
	})
	req := httptest.NewRequest(http.MethodPost, "/esb-download", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleDownload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ok bool
	json.NewDecoder(rec.Body).Decode(&ok)
	if !ok {
		t.Fatal("expected true response")
	}
	content, err := os.ReadFile(local)
	if err != nil || string(content) != "bytes-on-disk" {
		t.Fatalf("local file content = %q, err = %v", content, err)
	}
}

func TestHandleUploadBuildsMultipartWithBoundary(t *testing.T) {
	var gotContentType, gotPragma string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotPragma = r.Header.Get("Pragma")
		gotBody, _ = readAll(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "result.json")
	os.WriteFile(local, []byte(`{"ok":true}`), 0o644)

	s := New(Config{Timeout: time.Second, UploadPath: "/upload"})
	body, _ := json.Marshal(map[string]any{
		"server_path":     upstream.URL,
		"server_file":     "result.json",
		"local_file_path": local,
	})
	req := httptest.NewRequest(http.MethodPost, "/esb-upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ok bool
	json.NewDecoder(rec.Body).Decode(&ok)
	if !ok {
		t.Fatal("expected true response")
	}
	if gotPragma != "XMLMD5" {
		t.Fatalf("Pragma = %q, want XMLMD5", gotPragma)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data; boundary=----------7dcd52d09f4") {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	if !strings.Contains(string(gotBody), `{"ok":true}`) {
		t.Fatalf("uploaded body missing file contents: %q", gotBody)
	}
}

func TestHandleUploadRejectsNon2xx(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "result.json")
	os.WriteFile(local, []byte(`{}`), 0o644)

	s := New(Config{Timeout: time.Second})
	body, _ := json.Marshal(map[string]any{
		"server_path":     upstream.URL,
		"server_file":     "result.json",
		"local_file_path": local,
	})
	req := httptest.NewRequest(http.MethodPost, "/esb-upload", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleUpload(rec, req)

	var ok bool
	json.NewDecoder(rec.Body).Decode(&ok)
	if ok {
		t.Fatal("expected false response on upstream 500")
	}
}

func readAll(r *http.Request) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}
