package metrics

import "testing"

func TestRecordProxyRequestAccumulatesCounters(t *testing.T) {
	m := &Metrics{}

	m.RecordProxyRequest("docs", "ocr", 42, 200, false)
	m.RecordProxyRequest("docs", "ocr", 8, 502, false)
	m.RecordProxyRequest("docs", "ocr", 100, 504, true)

	if got := m.ProxyRequestsTotal.Load(); got != 3 {
		t.Errorf("ProxyRequestsTotal = %d, want 3", got)
	}
	if got := m.ProxyErrorsTotal.Load(); got != 2 {
		t.Errorf("ProxyErrorsTotal = %d, want 2", got)
	}
	if got := m.ProxyTimeoutsTotal.Load(); got != 1 {
		t.Errorf("ProxyTimeoutsTotal = %d, want 1", got)
	}

	stats := m.RouteStats()
	route, ok := stats["docs/ocr"].(map[string]interface{})
	if !ok {
		t.Fatalf("RouteStats missing docs/ocr entry: %+v", stats)
	}
	if route["requests"] != int64(3) {
		t.Errorf("route requests = %v, want 3", route["requests"])
	}
	if route["errors"] != int64(2) {
		t.Errorf("route errors = %v, want 2", route["errors"])
	}
}

func TestRecordJobTransitionCountsEachStatus(t *testing.T) {
	m := &Metrics{}

	m.RecordJobTransition("doc-ocr", "RECEIVED")
	m.RecordJobTransition("doc-ocr", "RUNNING")
	m.RecordJobTransition("doc-ocr", "SUCCEEDED")
	m.RecordJobTransition("doc-ocr", "FAILED")

	if m.JobsReceived.Load() != 1 {
		t.Errorf("JobsReceived = %d, want 1", m.JobsReceived.Load())
	}
	if m.JobsRunning.Load() != 1 {
		t.Errorf("JobsRunning = %d, want 1", m.JobsRunning.Load())
	}
	if m.JobsSucceeded.Load() != 1 {
		t.Errorf("JobsSucceeded = %d, want 1", m.JobsSucceeded.Load())
	}
	if m.JobsFailed.Load() != 1 {
		t.Errorf("JobsFailed = %d, want 1", m.JobsFailed.Load())
	}
}

func TestRecordESBUploadTracksBytesAndFailures(t *testing.T) {
	m := &Metrics{}

	m.RecordESBUpload(1024, true)
	m.RecordESBUpload(512, false)

	if m.ESBUploadsTotal.Load() != 2 {
		t.Errorf("ESBUploadsTotal = %d, want 2", m.ESBUploadsTotal.Load())
	}
	if m.ESBUploadBytes.Load() != 1536 {
		t.Errorf("ESBUploadBytes = %d, want 1536", m.ESBUploadBytes.Load())
	}
	if m.ESBUploadFailed.Load() != 1 {
		t.Errorf("ESBUploadFailed = %d, want 1", m.ESBUploadFailed.Load())
	}
}

func TestSnapshotReportsAverageLatency(t *testing.T) {
	m := &Metrics{}
	m.RecordProxyRequest("docs", "ocr", 100, 200, false)
	m.RecordProxyRequest("docs", "ocr", 300, 200, false)

	snap := m.Snapshot()
	proxy, ok := snap["proxy"].(map[string]interface{})
	if !ok {
		t.Fatalf("Snapshot missing proxy section: %+v", snap)
	}
	if proxy["avg_latency_ms"] != float64(200) {
		t.Errorf("avg_latency_ms = %v, want 200", proxy["avg_latency_ms"])
	}
}
