// Package agentruntime implements the orchestrator's agent dispatch layer:
// the AgentContext passed to every handler and the compile-time handler
// registry that replaces the original's dynamically-imported modules (see
// spec.md §9).
package agentruntime

import (
	"log/slog"
	"net/http"

	"github.com/agentmesh/mesh/internal/agentconfig"
	"github.com/agentmesh/mesh/internal/jobtracker"
)

// Settings is the subset of orchestrator configuration handlers need.
type Settings struct {
	StagingDir              string
	ESBBaseURL               string
	StagingDownloadTimeoutS  int
	ESBUploadTimeoutS        int
	IdempotencyTTLSec        int
	JobTTLSec                int
	CallbackTimeoutSec       int
	CallbackMaxRetries       int
	CallbackBaseDelaySec     float64
}

// Context carries everything a handler needs to run one invocation.
type Context struct {
	Request      *http.Request
	Settings     Settings
	Tracker      *jobtracker.Tracker
	RequestID    string
	AgentName    string
	AgentConfig  agentconfig.Config
	JSONBody     map[string]any // nil if body did not decode as a JSON object
	RawBody      []byte
	Logger       *slog.Logger
}

// Handler is the contract every agent implementation satisfies. The
// handler decides synchronous vs. asynchronous execution itself and writes
// the HTTP response directly.
type Handler interface {
	Run(ctx *Context, w http.ResponseWriter)
}

// Registry resolves a handler by name, keyed by the agent config's
// `handler` field (agent name with '-' normalised to '_' as fallback).
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Resolve looks up the handler for handlerName. The second return value is
// false if no handler is registered under that name (spec.md §4.6:
// "handler load failure -> 500 agent_handler_missing").
func (r *Registry) Resolve(handlerName string) (Handler, bool) {
	h, ok := r.handlers[handlerName]
	return h, ok
}
