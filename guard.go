package settlement

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// requireOwner gates governance operations on the single owner principal.
func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.owner {
		return NewSettlementError(ErrCodeUnauthorized, "caller is not the owner", map[string]interface{}{
			"caller": caller.Hex(),
		})
	}
	return nil
}

// Owner returns the governance principal.
func (e *Engine) Owner() common.Address {
	return e.owner
}

// Pause trips the circuit breaker. While paused the settlement entry point
// fails fast, before any funds move. Owner-only.
func (e *Engine) Pause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.govMu.Lock()
	e.paused = true
	e.govMu.Unlock()
	e.logger.Info("settlement paused", zap.String("owner", caller.Hex()))
	return nil
}

// Unpause resets the circuit breaker. Owner-only.
func (e *Engine) Unpause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.govMu.Lock()
	e.paused = false
	e.govMu.Unlock()
	e.logger.Info("settlement unpaused", zap.String("owner", caller.Hex()))
	return nil
}

// Paused reports whether the circuit breaker is tripped.
func (e *Engine) Paused() bool {
	e.govMu.RLock()
	defer e.govMu.RUnlock()
	return e.paused
}

// acquireGuard takes the per-invocation mutual-exclusion lock. The settlement
// path makes external calls with caller-controlled payloads, any of which
// could attempt to re-enter Settle mid-execution and corrupt the
// balance-diffing accounting.
func (e *Engine) acquireGuard() error {
	if !e.entered.CompareAndSwap(false, true) {
		return NewSettlementError(ErrCodeReentrantCall, "settlement already in progress", nil)
	}
	return nil
}

// releaseGuard releases the lock. Called on every exit path, including
// failure.
func (e *Engine) releaseGuard() {
	e.entered.Store(false)
}
