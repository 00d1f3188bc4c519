// Package gatewayproxy implements the gateway's reverse-proxy engine
// (spec.md §4.9): resolve a category/action against the route table, strip
// hop-by-hop headers, propagate trace/request ids, forward the call, and
// normalise the upstream response into a single envelope shape.
package gatewayproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/mesh/internal/apierr"
	"github.com/agentmesh/mesh/internal/auth"
	"github.com/agentmesh/mesh/internal/metrics"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/observability"
	"github.com/agentmesh/mesh/internal/routetable"
)

// hopByHopHeaders lists headers stripped from the inbound request before
// forwarding, per spec.md §4.9 step 3.
var hopByHopHeaders = []string{
	"Host", "Content-Length", "Transfer-Encoding", "Connection", "Expect", "Accept-Encoding",
}

// Proxy resolves and forwards gateway requests.
type Proxy struct {
	Table          *routetable.Table
	APIKey         string
	RequestTimeout time.Duration
	Client         *http.Client
}

// New constructs a Proxy. A zero requestTimeout falls back to 15s
// (spec.md's REQUEST_TIMEOUT_SEC default).
func New(table *routetable.Table, apiKey string, requestTimeout time.Duration) *Proxy {
	if requestTimeout == 0 {
		requestTimeout = 15 * time.Second
	}
	return &Proxy{
		Table:          table,
		APIKey:         apiKey,
		RequestTimeout: requestTimeout,
		Client: &http.Client{
			Timeout: requestTimeout,
			// Follow redirects with the default policy (spec.md §4.9 step 6).
		},
	}
}

// ServeHTTP expects r.URL.Path already stripped of the API prefix, i.e.
// "/{category}/{action}" or "/{category}/{action}/...".
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	category, action, ok := parseCategoryAction(r.URL.Path)
	if !ok {
		writeEnvelopeErr(w, apierr.New(apierr.KindUnknownRoute, "unknown route"))
		metrics.Global().RecordProxyRequest("unknown", "unknown", time.Since(start).Milliseconds(), http.StatusNotFound, false)
		return
	}
	fail := func(err error) {
		var apiErr *apierr.Error
		status := http.StatusInternalServerError
		if errors.As(err, &apiErr) {
			status = apiErr.HTTPStatus()
		}
		writeEnvelopeErr(w, err)
		metrics.Global().RecordProxyRequest(category, action, time.Since(start).Milliseconds(), status, status == http.StatusGatewayTimeout)
	}

	upstreamURL, err := p.Table.Resolve(category, action)
	if err != nil {
		fail(err)
		return
	}

	if p.APIKey != "" && !auth.Check(p.APIKey, r.Header.Get("X-Api-Key")) {
		fail(apierr.New(apierr.KindAuthFailure, "invalid api key"))
		return
	}

	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.RequestTimeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		fail(apierr.Wrap(apierr.KindBadGateway, "bad_gateway", err))
		return
	}
	copyHeaders(outReq.Header, r.Header)

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = uuid.NewString()
	}
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	outReq.Header.Set("X-Trace-Id", traceID)
	outReq.Header.Set("X-Request-Id", requestID)

	spanCtx, span := observability.StartSpan(ctx, "gatewayproxy.forward",
		observability.AttrCategory.String(category),
		observability.AttrAction.String(action),
		observability.AttrRequestID.String(requestID),
	)
	outReq = outReq.WithContext(spanCtx)

	resp, err := p.Client.Do(outReq)
	if err != nil {
		span.SetAttributes(observability.AttrDurationMs.Int64(time.Since(start).Milliseconds()))
		observability.SetSpanError(span, err)
		span.End()
		w.Header().Set("X-Trace-Id", traceID)
		if ctx.Err() == context.DeadlineExceeded {
			fail(apierr.Wrap(apierr.KindUpstreamTimeout, "upstream_timeout", err))
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			fail(apierr.Wrap(apierr.KindUpstreamTimeout, "upstream_timeout", err))
			return
		}
		fail(apierr.Wrap(apierr.KindBadGateway, "bad_gateway", err))
		return
	}
	defer resp.Body.Close()

	w.Header().Set("X-Trace-Id", traceID)
	respBody, _ := io.ReadAll(resp.Body)
	data := decodeUpstreamBody(respBody)

	span.SetAttributes(observability.AttrDurationMs.Int64(time.Since(start).Milliseconds()))
	if resp.StatusCode < 400 {
		observability.SetSpanOK(span)
	} else {
		observability.SetSpanError(span, apierr.New(apierr.KindBadGateway, "upstream_error"))
	}
	span.End()

	if resp.StatusCode < 400 {
		writeEnvelope(w, http.StatusOK, model.Envelope{Code: 0, Message: "ok", Data: data})
		metrics.Global().RecordProxyRequest(category, action, time.Since(start).Milliseconds(), http.StatusOK, false)
		return
	}
	writeEnvelope(w, http.StatusBadGateway, model.Envelope{Code: resp.StatusCode, Message: "upstream_error", Data: data})
	metrics.Global().RecordProxyRequest(category, action, time.Since(start).Milliseconds(), http.StatusBadGateway, false)
}

// parseCategoryAction extracts {category, action} from a path of the form
// "/{category}/{action}" or "/{category}/{action}/...".
func parseCategoryAction(path string) (category, action string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	segments := strings.SplitN(path, "/", 3)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", false
	}
	return segments[0], segments[1], true
}

func copyHeaders(dst, src http.Header) {
	stripped := make(map[string]bool, len(hopByHopHeaders))
	for _, h := range hopByHopHeaders {
		stripped[strings.ToLower(h)] = true
	}
	for k, values := range src {
		if stripped[strings.ToLower(k)] {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

// decodeUpstreamBody parses the response body as JSON. A scalar value is
// wrapped as {value: <scalar>}; anything that doesn't parse as JSON is
// wrapped as {raw: <text>}.
func decodeUpstreamBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return map[string]any{"raw": string(body)}
	}
	switch v.(type) {
	case map[string]any, []any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

func writeEnvelopeErr(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Wrap(apierr.KindInternal, "internal_error", err)
	}
	writeEnvelope(w, apiErr.HTTPStatus(), model.Envelope{Code: 0, Message: apiErr.Code(), Data: nil})
}

func writeEnvelope(w http.ResponseWriter, status int, env model.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
