package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-dev/tollgate/internal/cache"
	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/gate"
	"github.com/tollgate-dev/tollgate/internal/pricing"
	"github.com/tollgate-dev/tollgate/internal/scripts"
	"github.com/tollgate-dev/tollgate/internal/store"
)

// app is the assembled service stack shared by the serve, scripts, and price
// commands. Commands that only touch the database still build the full stack;
// the pieces are cheap and it keeps construction in one place.
type app struct {
	store   *store.Store
	cache   cache.ScriptCache
	engine  *engine.Engine
	scripts *scripts.Service
	pricing *pricing.Orchestrator
	gate    *gate.Gate
}

// openApp opens the database and wires the cache, engine, and services.
// An empty redisAddr selects the in-process cache.
func openApp(dbPath, redisAddr string, ttl time.Duration, logger *slog.Logger) (*app, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	eng, err := engine.New(logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	var sc cache.ScriptCache
	if redisAddr != "" {
		sc = cache.NewRedis(redisAddr, st, logger, ttl)
	} else {
		sc = cache.NewMemory(st, logger, cache.WithTTL(ttl))
	}

	return &app{
		store:   st,
		cache:   sc,
		engine:  eng,
		scripts: scripts.New(st, sc, eng, logger),
		pricing: pricing.New(sc, eng, logger),
		gate:    gate.New(sc, eng, logger),
	}, nil
}

func (a *app) Close() error {
	if c, ok := a.cache.(*cache.Redis); ok {
		_ = c.Close()
	}
	return a.store.Close()
}
