package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
)

// Tier identifies which cache layer satisfied a lookup.
type Tier string

const (
	TierFast   Tier = "fast"
	TierShared Tier = "shared"
)

// Lookup is the result of a cache read. Found=false with Degraded=true means
// an infrastructure failure was swallowed and the caller should treat the
// lookup as a miss; the distinction exists so tests can assert degradation
// was intentional.
type Lookup struct {
	Value    []byte
	Found    bool
	Degraded bool
	Tier     Tier
}

// Key derives the cache fingerprint for a weather resource. It is a pure
// function of coordinates, unit system and resource kind, so two queries for
// the same geocoded place always resolve to the same entry no matter how the
// city name was typed. Coordinates are rounded to 4 decimal places (~11m).
func Key(lat, lon float64, units models.Units, kind string) string {
	return fmt.Sprintf("weather:%.4f:%.4f:%s:%s", lat, lon, units, kind)
}

// fastTTLCap bounds the in-process tier so a fast entry can never outlive
// what the shared tier would return.
const fastTTLCap = 60 * time.Second

// SharedTier is the cross-process cache layer: a string key/value store with
// per-key TTL. Implementations must be safe for concurrent use.
type SharedTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
}

// TieredCache layers a short-TTL in-process tier in front of a longer-TTL
// shared tier. Reads check fast then shared (backfilling fast on a shared
// hit); writes go through to both tiers independently. Infrastructure
// failures never propagate: they are logged, counted and reported as a
// degraded miss so the caller falls through to a live fetch.
type TieredCache struct {
	fast   *fastTier
	shared SharedTier
	logger *zap.Logger
}

// NewTieredCache creates a TieredCache over the given shared tier.
func NewTieredCache(shared SharedTier, logger *zap.Logger) *TieredCache {
	return &TieredCache{
		fast:   newFastTier(),
		shared: shared,
		logger: logger,
	}
}

// Get returns the cached value for key. Fast tier first (expired entries are
// purged on access), then shared tier; a shared hit backfills the fast tier
// with the capped TTL.
func (c *TieredCache) Get(ctx context.Context, key string) Lookup {
	if v, ok := c.fast.get(key); ok {
		observability.CacheHitsTotal.WithLabelValues(string(TierFast)).Inc()
		return Lookup{Value: v, Found: true, Tier: TierFast}
	}

	v, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeError(err)).Inc()
		c.logger.Warn("shared cache get failed", zap.String("key", key), zap.Error(err))
		return Lookup{Degraded: true}
	}
	if !ok {
		observability.CacheMissesTotal.Inc()
		return Lookup{}
	}

	observability.CacheHitsTotal.WithLabelValues(string(TierShared)).Inc()
	c.fast.set(key, v, fastTTLCap)
	return Lookup{Value: v, Found: true, Tier: TierShared}
}

// Set stores value in both tiers: fast with TTL capped at 60s, shared with
// the full TTL. The writes are independent; a shared-tier failure is logged
// and does not undo the fast-tier write.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	fastTTL := ttl
	if fastTTL > fastTTLCap {
		fastTTL = fastTTLCap
	}
	c.fast.set(key, value, fastTTL)

	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeError(err)).Inc()
		c.logger.Warn("shared cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.fast.delete(key)
	if err := c.shared.Delete(ctx, key); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("delete", categorizeError(err)).Inc()
		c.logger.Warn("shared cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateLocal clears only the fast tier. The shared tier is untouched,
// so other processes keep their view.
func (c *TieredCache) InvalidateLocal() {
	c.fast.clear()
}

// Ping reports shared-tier reachability for health checks.
func (c *TieredCache) Ping() error {
	return c.shared.Ping()
}

// categorizeError returns a stable label for cache error metrics.
func categorizeError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// fastTier is the in-process layer: a mutex-guarded map with per-entry
// expiry, lazily purged on read. Entries are written wholesale; there is no
// in-place mutation.
type fastTier struct {
	mu   sync.Mutex
	data map[string]fastEntry
}

type fastEntry struct {
	value     []byte
	expiresAt time.Time
}

func newFastTier() *fastTier {
	return &fastTier{data: make(map[string]fastEntry)}
}

func (f *fastTier) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(f.data, key)
		return nil, false
	}
	return entry.value, true
}

func (f *fastTier) set(key string, value []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fastEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (f *fastTier) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
}

func (f *fastTier) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]fastEntry)
}
