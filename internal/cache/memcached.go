package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
)

// MemcachedTier implements SharedTier using memcached.
type MemcachedTier struct {
	client *memcache.Client
}

// NewMemcachedTier creates a MemcachedTier. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns configure the client; both use package defaults if zero.
func NewMemcachedTier(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedTier {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedTier{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements SharedTier. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(key)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set implements SharedTier.
func (c *MemcachedTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expSec,
	})
}

// Delete implements SharedTier. A miss on delete is not an error.
func (c *MemcachedTier) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.client.Delete(key); err != nil && err != memcache.ErrCacheMiss {
		return err
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedTier) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedTier) Close() error {
	return c.client.Close()
}

// retryBackendAfter is how long a ResilientTier serves from its fallback
// before probing the real backend again.
const retryBackendAfter = 30 * time.Second

// ResilientTier wraps a SharedTier with a transparent in-process fallback.
// When the backend errors, subsequent operations are served from the
// fallback for a short window, then the backend is probed again. Callers
// never see a connectivity error; at worst they see shorter-lived entries.
type ResilientTier struct {
	backend  SharedTier
	fallback *MemoryTier
	logger   *zap.Logger

	mu            sync.Mutex
	degradedUntil time.Time
}

// NewResilientTier wraps backend with an in-memory fallback.
func NewResilientTier(backend SharedTier, logger *zap.Logger) *ResilientTier {
	return &ResilientTier{
		backend:  backend,
		fallback: NewMemoryTier(),
		logger:   logger,
	}
}

// useFallback reports whether the degraded window is active.
func (r *ResilientTier) useFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.degradedUntil)
}

// markDegraded starts (or extends) the fallback window.
func (r *ResilientTier) markDegraded(op string, err error) {
	r.mu.Lock()
	r.degradedUntil = time.Now().Add(retryBackendAfter)
	r.mu.Unlock()
	observability.CacheSharedFallbackActive.Set(1)
	r.logger.Warn("shared cache backend unreachable, serving from in-memory fallback",
		zap.String("operation", op), zap.Error(err))
}

// markHealthy ends the fallback window after a successful backend call.
func (r *ResilientTier) markHealthy() {
	r.mu.Lock()
	wasDegraded := !r.degradedUntil.IsZero()
	r.degradedUntil = time.Time{}
	r.mu.Unlock()
	observability.CacheSharedFallbackActive.Set(0)
	if wasDegraded {
		r.logger.Info("shared cache backend recovered")
	}
}

// Get implements SharedTier.
func (r *ResilientTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.useFallback() {
		return r.fallback.Get(ctx, key)
	}
	v, ok, err := r.backend.Get(ctx, key)
	if err != nil {
		r.markDegraded("get", err)
		return r.fallback.Get(ctx, key)
	}
	r.markHealthy()
	return v, ok, nil
}

// Set implements SharedTier. The fallback is always written so entries
// survive a backend outage that begins moments later.
func (r *ResilientTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = r.fallback.Set(ctx, key, value, ttl)
	if r.useFallback() {
		return nil
	}
	if err := r.backend.Set(ctx, key, value, ttl); err != nil {
		r.markDegraded("set", err)
		return nil
	}
	r.markHealthy()
	return nil
}

// Delete implements SharedTier.
func (r *ResilientTier) Delete(ctx context.Context, key string) error {
	_ = r.fallback.Delete(ctx, key)
	if r.useFallback() {
		return nil
	}
	if err := r.backend.Delete(ctx, key); err != nil {
		r.markDegraded("delete", err)
		return nil
	}
	r.markHealthy()
	return nil
}

// Ping reports backend reachability, not fallback health. Health endpoints
// use it to show the real infrastructure state even while degraded.
func (r *ResilientTier) Ping() error {
	return r.backend.Ping()
}
