package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// flakyTier is a SharedTier whose operations can be forced to fail,
// with a switchable backing store for backfill assertions.
type flakyTier struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	sets int
}

func newFlakyTier() *flakyTier {
	return &flakyTier{data: make(map[string][]byte)}
}

func (f *flakyTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *flakyTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *flakyTier) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.data, key)
	return nil
}

func (f *flakyTier) Ping() error { return f.err }

func (f *flakyTier) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestKey_Deterministic(t *testing.T) {
	a := Key(47.6062, -122.3321, models.UnitsMetric, "current")
	b := Key(47.6062, -122.3321, models.UnitsMetric, "current")
	if a != b {
		t.Errorf("Key() not deterministic: %q vs %q", a, b)
	}
	c := Key(47.6062, -122.3321, models.UnitsImperial, "current")
	if a == c {
		t.Error("Key() should differ per unit system")
	}
	d := Key(47.6062, -122.3321, models.UnitsMetric, "forecast")
	if a == d {
		t.Error("Key() should differ per resource kind")
	}
}

func TestTieredCache_SetThenGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewTieredCache(NewMemoryTier(), zap.NewNop())

	val := []byte(`{"temperature":12.5}`)
	c.Set(ctx, "k1", val, 5*time.Minute)

	got := c.Get(ctx, "k1")
	if !got.Found {
		t.Fatal("Get() Found = false, want true after Set")
	}
	if !bytes.Equal(got.Value, val) {
		t.Errorf("Get() = %s, want %s", got.Value, val)
	}
	if got.Tier != TierFast {
		t.Errorf("Get() Tier = %q, want fast", got.Tier)
	}
}

func TestTieredCache_SharedHitBackfillsFastTier(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryTier()
	c := NewTieredCache(shared, zap.NewNop())

	val := []byte(`{"temperature":3.0}`)
	// Seed the shared tier directly, as another process would.
	if err := shared.Set(ctx, "k1", val, 5*time.Minute); err != nil {
		t.Fatalf("shared Set() error = %v", err)
	}

	got := c.Get(ctx, "k1")
	if !got.Found || got.Tier != TierShared {
		t.Fatalf("Get() = %+v, want shared-tier hit", got)
	}

	// Second read must come from the backfilled fast tier.
	got = c.Get(ctx, "k1")
	if !got.Found || got.Tier != TierFast {
		t.Errorf("Get() after backfill = %+v, want fast-tier hit", got)
	}
}

func TestTieredCache_FastTierExpiry_FallsThroughToShared(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryTier()
	c := NewTieredCache(shared, zap.NewNop())

	val := []byte(`{"temperature":3.0}`)
	c.fast.set("k1", val, 5*time.Millisecond)
	if err := shared.Set(ctx, "k1", val, 5*time.Minute); err != nil {
		t.Fatalf("shared Set() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	got := c.Get(ctx, "k1")
	if !got.Found {
		t.Fatal("Get() Found = false, want shared-tier hit after fast expiry")
	}
	if got.Tier != TierShared {
		t.Errorf("Get() Tier = %q, want shared", got.Tier)
	}
}

func TestTieredCache_SharedFailure_DegradedMiss(t *testing.T) {
	ctx := context.Background()
	shared := newFlakyTier()
	shared.fail(errors.New("connection refused"))
	c := NewTieredCache(shared, zap.NewNop())

	got := c.Get(ctx, "k1")
	if got.Found {
		t.Error("Get() Found = true, want miss on infrastructure failure")
	}
	if !got.Degraded {
		t.Error("Get() Degraded = false, want true on infrastructure failure")
	}
}

func TestTieredCache_SharedSetFailure_FastWriteSurvives(t *testing.T) {
	ctx := context.Background()
	shared := newFlakyTier()
	shared.fail(errors.New("connection refused"))
	c := NewTieredCache(shared, zap.NewNop())

	val := []byte(`{"temperature":21.0}`)
	c.Set(ctx, "k1", val, 5*time.Minute)

	// Shared tier is down for reads too, but the fast tier alone must
	// satisfy an immediate read-back.
	got := c.Get(ctx, "k1")
	if !got.Found || got.Tier != TierFast {
		t.Errorf("Get() = %+v, want fast-tier hit despite shared outage", got)
	}
}

func TestTieredCache_Delete_RemovesBothTiers(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryTier()
	c := NewTieredCache(shared, zap.NewNop())

	c.Set(ctx, "k1", []byte("v"), time.Minute)
	c.Delete(ctx, "k1")

	if got := c.Get(ctx, "k1"); got.Found {
		t.Error("Get() after Delete found a value")
	}
	if _, ok, _ := shared.Get(ctx, "k1"); ok {
		t.Error("shared tier still holds deleted key")
	}
}

func TestTieredCache_InvalidateLocal_LeavesSharedTier(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryTier()
	c := NewTieredCache(shared, zap.NewNop())

	c.Set(ctx, "k1", []byte("v"), time.Minute)
	c.InvalidateLocal()

	if _, ok, _ := shared.Get(ctx, "k1"); !ok {
		t.Error("InvalidateLocal() cleared the shared tier")
	}
	// Value is still served, now via the shared tier.
	if got := c.Get(ctx, "k1"); !got.Found || got.Tier != TierShared {
		t.Errorf("Get() after InvalidateLocal = %+v, want shared-tier hit", got)
	}
}

func TestMemoryTier_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier()

	if err := m.Set(ctx, "k", []byte("v"), 5*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("Get() found expired entry")
	}
}

func TestResilientTier_FallsBackAndRecovers(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyTier()
	r := NewResilientTier(backend, zap.NewNop())

	// Healthy path writes through to the backend.
	if err := r.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "k"); !ok {
		t.Fatal("backend missing value written while healthy")
	}

	// Backend goes down: operations keep succeeding via the fallback.
	backend.fail(errors.New("connection refused"))
	if err := r.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set() during outage error = %v", err)
	}
	v, ok, err := r.Get(ctx, "k2")
	if err != nil || !ok {
		t.Fatalf("Get() during outage = (%v, %v, %v), want fallback hit", v, ok, err)
	}
	if string(v) != "v2" {
		t.Errorf("Get() during outage = %q, want v2", v)
	}

	// Values written before the outage are also in the fallback.
	if _, ok, _ := r.Get(ctx, "k"); !ok {
		t.Error("pre-outage value missing from fallback")
	}
}
