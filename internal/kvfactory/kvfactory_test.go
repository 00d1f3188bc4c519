package kvfactory

import (
	"testing"

	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/kv/redistest"
)

func TestNewDefaultsToV9(t *testing.T) {
	store := New(config.RedisConfig{Host: "localhost", Port: 6379})
	defer store.Close()
	if _, ok := store.(*kv.RedisStore); !ok {
		t.Fatalf("New() = %T, want *kv.RedisStore", store)
	}
}

func TestNewSelectsLegacyClient(t *testing.T) {
	store := New(config.RedisConfig{Host: "localhost", Port: 6379, Client: "legacy"})
	defer store.Close()
	if _, ok := store.(*redistest.Store); !ok {
		t.Fatalf("New() = %T, want *redistest.Store", store)
	}
}
