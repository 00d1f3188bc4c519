// Package jobtracker implements the orchestrator's idempotent job lifecycle:
// request-id generation, distributed lock acquisition/release, and the
// persisted job status record. It is a thin domain layer over kv.Store.
package jobtracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/model"
)

// Tracker manages per-request job records and idempotency locks.
type Tracker struct {
	store  kv.Store
	prefix string
}

// New creates a Tracker backed by store. prefix namespaces job and lock
// keys; trailing colons are trimmed so callers may pass either form.
func New(store kv.Store, prefix string) *Tracker {
	for len(prefix) > 0 && prefix[len(prefix)-1] == ':' {
		prefix = prefix[:len(prefix)-1]
	}
	return &Tracker{store: store, prefix: prefix}
}

func (t *Tracker) jobKey(requestID string) string {
	return t.prefix + ":job:" + requestID
}

func (t *Tracker) lockKey(requestID string) string {
	return t.prefix + ":lock:" + requestID
}

// EnsureRequestID returns maybeID if non-empty, else a fresh UUIDv4.
func (t *Tracker) EnsureRequestID(maybeID string) string {
	if maybeID != "" {
		return maybeID
	}
	return uuid.NewString()
}

// GetJob returns the persisted record for requestID, or nil if absent.
func (t *Tracker) GetJob(ctx context.Context, requestID string) (*model.Job, error) {
	raw, err := t.store.Get(ctx, t.jobKey(requestID))
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// AcquireLock attempts to acquire the idempotency lock for requestID with
// the given ttl. Returns the generated token on success, or "" if the lock
// is already held.
func (t *Tracker) AcquireLock(ctx context.Context, requestID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := t.store.SetNX(ctx, t.lockKey(requestID), []byte(token), ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases the lock for requestID only if it is still held by
// token. It is best-effort: errors are swallowed since a stuck lock
// self-heals via TTL.
func (t *Tracker) ReleaseLock(ctx context.Context, requestID, token string) {
	_, _ = t.store.CompareAndDelete(ctx, t.lockKey(requestID), []byte(token))
}

// SetStatus writes a job record with the given ttl.
func (t *Tracker) SetStatus(ctx context.Context, requestID string, status model.Status, result any, errMsg string, ttl time.Duration) error {
	job := model.Job{Status: status, Result: result, Error: errMsg}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, t.jobKey(requestID), raw, ttl)
}
