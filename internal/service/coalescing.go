package service

import (
	"context"
	"sync"
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest struct {
	mu      sync.Mutex
	result  models.CurrentConditions
	err     error
	done    bool
	waiters []chan struct{}
}

// requestCoalescer collapses concurrent cache misses for the same key into a
// single upstream call. Without it, a popular city expiring from cache sends
// one provider request per waiting client.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo returns the result of an in-flight request for key if one exists,
// otherwise executes fn and shares its result with every waiter. Respects
// context cancellation and the coalescer timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.CurrentConditions, error)) (models.CurrentConditions, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			result := req.result
			err := req.err
			req.mu.Unlock()
			rc.mu.Unlock()
			return result, err
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		rc.mu.Unlock()

		return rc.wait(ctx, req, notify)
	}

	req = &inFlightRequest{
		waiters: make([]chan struct{}, 0),
	}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	// The fetch runs detached so that the initiating caller timing out does
	// not abandon waiters who joined later.
	go func() {
		result, err := fn()

		req.mu.Lock()
		req.result = result
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		rc.cleanup(key)
	}()

	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result := req.result
		err := req.err
		req.mu.Unlock()
		return result, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	return rc.wait(ctx, req, notify)
}

func (rc *requestCoalescer) wait(ctx context.Context, req *inFlightRequest, notify chan struct{}) (models.CurrentConditions, error) {
	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		result := req.result
		err := req.err
		req.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		return models.CurrentConditions{}, waitCtx.Err()
	}
}

// cleanup removes the in-flight entry for key once the request completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
