package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// SettleContext contains information passed to settle hooks
type SettleContext struct {
	Ctx       context.Context
	Caller    common.Address
	Intent    PaymentIntent
	Timestamp time.Time
}

// SettleResultContext contains a settle operation result and context
type SettleResultContext struct {
	SettleContext
	Receipt  PaymentReceipt
	Duration time.Duration
}

// SettleFailureContext contains a settle operation failure and context
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the settlement will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeSettleHook is called before settlement, outside the atomic section.
// If it returns a result with Abort=true, settlement is skipped and an
// error is returned with the provided reason.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook is called after a successful settlement commits.
// Any error returned is logged but does not affect the settlement result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when settlement fails, after rollback.
// Hooks observe the failure; they cannot recover it — the all-or-nothing
// model admits no partial-success state to recover into.
type OnSettleFailureHook func(SettleFailureContext) error

// FeeChangedHook is called when the standard fee rate changes.
type FeeChangedHook func(FeeChanged)

// ============================================================================
// Hook Registration
// ============================================================================

func (e *Engine) OnBeforeSettle(hook BeforeSettleHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.beforeSettleHooks = append(e.beforeSettleHooks, hook)
	return e
}

func (e *Engine) OnAfterSettle(hook AfterSettleHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.afterSettleHooks = append(e.afterSettleHooks, hook)
	return e
}

func (e *Engine) OnSettleFailure(hook OnSettleFailureHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onSettleFailureHooks = append(e.onSettleFailureHooks, hook)
	return e
}

func (e *Engine) OnFeeChanged(hook FeeChangedHook) *Engine {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.feeChangedHooks = append(e.feeChangedHooks, hook)
	return e
}

// ============================================================================
// Hook Execution
// ============================================================================

// runBeforeSettleHooks executes before hooks in order. The first abort wins.
func (e *Engine) runBeforeSettleHooks(hctx SettleContext) error {
	e.hookMu.RLock()
	hooks := e.beforeSettleHooks
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(hctx)
		if err != nil {
			return err
		}
		if result != nil && result.Abort {
			return NewSettlementError(ErrCodeSettlementAborted, result.Reason, nil)
		}
	}
	return nil
}

func (e *Engine) runAfterSettleHooks(hctx SettleResultContext) {
	e.hookMu.RLock()
	hooks := e.afterSettleHooks
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(hctx); err != nil {
			e.logger.Warn("after-settle hook failed", zap.Error(err))
		}
	}
}

func (e *Engine) runSettleFailureHooks(hctx SettleFailureContext) {
	e.hookMu.RLock()
	hooks := e.onSettleFailureHooks
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(hctx); err != nil {
			e.logger.Warn("settle-failure hook failed", zap.Error(err))
		}
	}
}

func (e *Engine) notifyFeeChanged(event FeeChanged) {
	e.hookMu.RLock()
	hooks := e.feeChangedHooks
	e.hookMu.RUnlock()

	for _, hook := range hooks {
		hook(event)
	}
}
