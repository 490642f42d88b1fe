package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// MaxServiceFeeBps caps every configurable fee rate at 100 basis
	// points (1%).
	MaxServiceFeeBps = 100

	// feeDenominator converts basis points to a fraction.
	feeDenominator = 10000
)

// SetServiceFeePercent updates the standard fee rate, in basis points out of
// 10000. Owner-only. Emits a FeeChanged record through the logger and hooks.
func (e *Engine) SetServiceFeePercent(caller common.Address, rateBps uint16) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if rateBps > MaxServiceFeeBps {
		return NewSettlementError(ErrCodeInvalidServiceFeePercent,
			fmt.Sprintf("fee rate %d exceeds maximum %d bps", rateBps, MaxServiceFeeBps), nil)
	}

	e.govMu.Lock()
	e.standardFeeBps = rateBps
	e.govMu.Unlock()

	e.logger.Info("standard service fee changed", zap.Uint16("rateBps", rateBps))
	e.notifyFeeChanged(FeeChanged{RateBps: rateBps})
	return nil
}

// SetSpecialFee stores a per-account fee override for a payee. Owner-only.
// An override explicitly set to zero is indistinguishable from no override
// and falls back to the standard rate on reads.
func (e *Engine) SetSpecialFee(caller, account common.Address, rateBps uint16) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return NewSettlementError(ErrCodeInvalidAddress, "special fee account is the null address", nil)
	}
	if rateBps > MaxServiceFeeBps {
		return NewSettlementError(ErrCodeInvalidServiceFeePercent,
			fmt.Sprintf("fee rate %d exceeds maximum %d bps", rateBps, MaxServiceFeeBps), nil)
	}

	e.govMu.Lock()
	e.specialFeeBps[account] = rateBps
	e.govMu.Unlock()

	e.logger.Info("special service fee set",
		zap.String("account", account.Hex()),
		zap.Uint16("rateBps", rateBps))
	return nil
}

// GetServiceFee resolves the applicable fee rate for a payee: the special
// rate when it is non-zero, else the standard rate.
func (e *Engine) GetServiceFee(account common.Address) uint16 {
	e.govMu.RLock()
	defer e.govMu.RUnlock()
	if special, ok := e.specialFeeBps[account]; ok && special != 0 {
		return special
	}
	return e.standardFeeBps
}

// feeFor computes floor(amount * rateBps / 10000).
func feeFor(amount *big.Int, rateBps uint16) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(rateBps)))
	return fee.Div(fee, big.NewInt(feeDenominator))
}
