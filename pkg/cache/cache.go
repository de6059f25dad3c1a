package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Cache wraps a Store with JSON encoding, metrics and a degraded mode.
// Once an invalidation fails the cache is bypassed until a full flush succeeds,
// so readers never observe a value older than the last committed write.
// Cache ห่อ Store พร้อม metrics และโหมด degraded เมื่อ invalidate ไม่สำเร็จ
type Cache struct {
	store    Store
	logger   *zap.Logger
	degraded atomic.Bool

	lookups *prometheus.CounterVec
}

// New creates a cache over store. reg may be nil.
func New(store Store, logger *zap.Logger, reg prometheus.Registerer) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:  store,
		logger: logger,
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tireshop",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss, bypass, error).",
		}, []string{"result"}),
	}
	if reg != nil {
		if err := reg.Register(c.lookups); err != nil {
			logger.Warn("cache metrics not registered", zap.Error(err))
		}
	}
	return c
}

// Degraded reports whether reads currently bypass the store.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// Invalidate drops every entry under the given prefixes. A failure flips the
// cache into degraded mode and is not returned to the caller, whose write has
// already committed.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...string) {
	if c == nil {
		return
	}
	for _, p := range prefixes {
		if err := c.store.DeletePrefix(ctx, p); err != nil {
			c.degraded.Store(true)
			c.logger.Error("cache invalidation failed, bypassing cache",
				zap.String("prefix", p),
				zap.Error(err),
			)
			return
		}
	}
}

// recover tries a full flush while degraded.
func (c *Cache) recover(ctx context.Context) bool {
	if !c.degraded.Load() {
		return true
	}
	if err := c.store.DeletePrefix(ctx, ""); err != nil {
		return false
	}
	c.degraded.Store(false)
	c.logger.Info("cache flushed, leaving degraded mode")
	return true
}

// Remember returns the cached value for key or computes it with load and
// stores it for ttl. Store errors fall through to load.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	if !c.recover(ctx) {
		c.lookups.WithLabelValues("bypass").Inc()
		return load(ctx)
	}

	raw, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.lookups.WithLabelValues("error").Inc()
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.lookups.WithLabelValues("hit").Inc()
			return v, nil
		}
		c.lookups.WithLabelValues("error").Inc()
	default:
		c.lookups.WithLabelValues("miss").Inc()
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c.degraded.Load() {
		return v, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, buf, ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
