package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	settlement "github.com/routepay/settlement-go"
)

// SettlementCache provides idempotency for settle requests by caching
// successful receipts and tracking in-flight invocations. It prevents
// duplicate settlements when clients retry after timeouts or network
// failures.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*settlement.PaymentReceipt
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the specified TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*settlement.PaymentReceipt),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementKey derives the idempotency key from the raw request body. The
// body includes the full intent, so the key is unique per payment attempt.
func SettlementKey(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// CacheStatus represents the result of checking the cache.
type CacheStatus int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound CacheStatus = iota
	// StatusCached means a cached receipt was found.
	StatusCached
	// StatusInFlight means another request is currently settling this intent.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and marks the key as in-flight
// when it is absent. Returns the cached receipt, a wait channel for an
// in-flight request, or a done channel this request must complete.
func (c *SettlementCache) CheckAndMark(key string) (CacheStatus, *settlement.PaymentReceipt, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		// Expired - clean it up
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight request to complete, respecting
// context cancellation. Returns nil when the in-flight request failed.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*settlement.PaymentReceipt, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get retrieves a cached receipt if it exists and has not expired.
func (c *SettlementCache) Get(key string) *settlement.PaymentReceipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches the receipt, clears the in-flight marker and signals
// waiters.
func (c *SettlementCache) Complete(key string, receipt *settlement.PaymentReceipt, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = receipt
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	// Lazy cleanup of expired entries
	now := time.Now()
	for k, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, k)
			delete(c.expiry, k)
		}
	}
}

// Fail clears the in-flight marker without caching, so the settlement can be
// retried, and signals waiters.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}
