package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	store := NewRedisStore(RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreSetGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
}

func TestRedisStoreGetMissingReturnsErrNotFound(t *testing.T) {
	store := newTestRedisStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("Get missing key error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreSetNXOnlySetsOnce(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "lock", []byte("token-a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v, want true, nil", ok, err)
	}
	ok, err = store.SetNX(ctx, "lock", []byte("token-b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v, want false, nil", ok, err)
	}
}

func TestRedisStoreCompareAndDeleteRequiresMatch(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	store.SetNX(ctx, "lock", []byte("token-a"), time.Minute)

	deleted, err := store.CompareAndDelete(ctx, "lock", []byte("token-b"))
	if err != nil || deleted {
		t.Fatalf("mismatched CompareAndDelete = %v, %v, want false, nil", deleted, err)
	}

	deleted, err = store.CompareAndDelete(ctx, "lock", []byte("token-a"))
	if err != nil || !deleted {
		t.Fatalf("matching CompareAndDelete = %v, %v, want true, nil", deleted, err)
	}
}

func TestRedisStoreIncrCountsFromOne(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i, want := range []int64{1, 2, 3} {
		got, err := store.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Incr #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("Incr #%d = %d, want %d", i, got, want)
		}
	}
}

func TestRedisStoreHashOperations(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.HSet(ctx, "routes", "docs.ocr", []byte("http://orchestrator/agents/doc-ocr")); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	val, err := store.HGet(ctx, "routes", "docs.ocr")
	if err != nil || string(val) != "http://orchestrator/agents/doc-ocr" {
		t.Fatalf("HGet = %q, %v", val, err)
	}

	all, err := store.HGetAll(ctx, "routes")
	if err != nil || len(all) != 1 {
		t.Fatalf("HGetAll = %v, %v", all, err)
	}

	if err := store.HDel(ctx, "routes", "docs.ocr"); err != nil {
		t.Fatalf("HDel: %v", err)
	}
	if _, err := store.HGet(ctx, "routes", "docs.ocr"); err != ErrNotFound {
		t.Errorf("HGet after HDel error = %v, want ErrNotFound", err)
	}
}

func TestRedisStorePing(t *testing.T) {
	store := newTestRedisStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
