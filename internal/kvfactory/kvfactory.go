// Package kvfactory selects the kv.Store implementation named by
// config.RedisConfig.Client, keeping the "v9" vs "legacy" driver choice out
// of internal/kv itself (which cannot import redistest without a cycle,
// since redistest implements kv.Store).
package kvfactory

import (
	"github.com/agentmesh/mesh/internal/config"
	"github.com/agentmesh/mesh/internal/kv"
	"github.com/agentmesh/mesh/internal/kv/redistest"
)

// New constructs the Store selected by cfg.Client: "v9" (default,
// kv.RedisStore) or "legacy" (redistest.Store, the v8-client alternative).
func New(cfg config.RedisConfig) kv.Store {
	if cfg.Client == "legacy" {
		return redistest.New(redistest.Config{
			Addr:      cfg.Addr(),
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
	}
	return kv.NewRedisStore(kv.RedisConfig{
		Addr:      cfg.Addr(),
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
	})
}
