// Package routetable implements the gateway's dynamic route table: a
// category.action -> url map backed by a shared KV hash, with an atomically
// swappable in-memory snapshot for lock-free reads.
package routetable

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentmesh/mesh/internal/apierr"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/model"
)

const hashKey = "routes"

// Table is a read-mostly route table. Readers call Resolve/All against an
// atomically-swapped immutable snapshot; writers (Add, Reload) take a mutex
// only around the swap itself.
type Table struct {
	store kv.Store

	mu       sync.Mutex // serializes writers only
	snapshot atomic.Pointer[map[string]string]
	ready    atomic.Bool
}

// New constructs a Table and kicks off a best-effort, time-bounded initial
// load. Until the load completes (or times out), Resolve returns
// KindNotReady; the next request's Resolve call retries the load.
func New(store kv.Store, initTimeout time.Duration) *Table {
	empty := map[string]string{}
	t := &Table{store: store}
	t.snapshot.Store(&empty)

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.reload(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(initTimeout):
	}
	return t
}

// Resolve looks up category.action. Returns apierr KindNotReady if the
// table has never completed an initial load, KindUnknownRoute if the key
// is absent.
func (t *Table) Resolve(category, action string) (string, error) {
	snap := *t.snapshot.Load()
	if !t.ready.Load() {
		// Retry the load inline so a stalled startup self-heals on traffic.
		t.reload(context.Background())
		snap = *t.snapshot.Load()
		if !t.ready.Load() {
			return "", apierr.New(apierr.KindNotReady, "routes_not_ready")
		}
	}
	url, ok := snap[category+"."+action]
	if !ok {
		return "", apierr.New(apierr.KindUnknownRoute, "unknown route")
	}
	return url, nil
}

// Add upserts a route entry: writes through to the backing KV hash, then
// updates the in-memory snapshot directly (no full reload needed).
func (t *Table) Add(ctx context.Context, route model.Route) error {
	if err := t.store.HSet(ctx, hashKey, route.Key(), []byte(route.URL)); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	old := *t.snapshot.Load()
	next := make(map[string]string, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[route.Key()] = route.URL
	t.snapshot.Store(&next)
	t.ready.Store(true)
	return nil
}

// Reload rereads the full KV hash and atomically swaps the snapshot.
func (t *Table) Reload(ctx context.Context) error {
	return t.reload(ctx)
}

func (t *Table) reload(ctx context.Context) error {
	fields, err := t.store.HGetAll(ctx, hashKey)
	if err != nil {
		return err
	}

	next := make(map[string]string, len(fields))
	for k, v := range fields {
		next[k] = string(v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Store(&next)
	t.ready.Store(true)
	return nil
}

// All returns a snapshot of every route, keyed by "category.action", for
// diagnostics.
func (t *Table) All() map[string]string {
	snap := *t.snapshot.Load()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// Ready reports whether the table has completed at least one load.
func (t *Table) Ready() bool {
	return t.ready.Load()
}
