package settlement_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	settlement "github.com/routepay/settlement-go"
)

func TestSetServiceFeePercent(t *testing.T) {
	env := newTestEnv(t, 0)

	if err := env.engine.SetServiceFeePercent(ownerAddr, 80); err != nil {
		t.Fatalf("setting fee failed: %v", err)
	}
	if got := env.engine.GetServiceFee(merchantAddr); got != 80 {
		t.Fatalf("expected 80 bps, got %d", got)
	}

	err := env.engine.SetServiceFeePercent(ownerAddr, settlement.MaxServiceFeeBps+1)
	if settlement.ErrorCode(err) != settlement.ErrCodeInvalidServiceFeePercent {
		t.Fatalf("expected invalid_service_fee_percent, got %v", err)
	}

	err = env.engine.SetServiceFeePercent(payerAddr, 10)
	if settlement.ErrorCode(err) != settlement.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized for non-owner, got %v", err)
	}
}

func TestSetSpecialFee(t *testing.T) {
	env := newTestEnv(t, 50)

	if err := env.engine.SetSpecialFee(ownerAddr, merchantAddr, 25); err != nil {
		t.Fatalf("setting special fee failed: %v", err)
	}
	if got := env.engine.GetServiceFee(merchantAddr); got != 25 {
		t.Fatalf("expected special 25 bps, got %d", got)
	}
	if got := env.engine.GetServiceFee(payerAddr); got != 50 {
		t.Fatalf("expected standard 50 bps for other accounts, got %d", got)
	}

	err := env.engine.SetSpecialFee(ownerAddr, common.Address{}, 25)
	if settlement.ErrorCode(err) != settlement.ErrCodeInvalidAddress {
		t.Fatalf("expected invalid_address for null account, got %v", err)
	}

	err = env.engine.SetSpecialFee(payerAddr, merchantAddr, 25)
	if settlement.ErrorCode(err) != settlement.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized for non-owner, got %v", err)
	}
}

// A special fee explicitly set to zero is indistinguishable from no override
// and falls back to the standard rate.
func TestSpecialFeeZeroFallsBackToStandard(t *testing.T) {
	env := newTestEnv(t, 50)

	if err := env.engine.SetSpecialFee(ownerAddr, merchantAddr, 0); err != nil {
		t.Fatalf("setting special fee failed: %v", err)
	}
	if got := env.engine.GetServiceFee(merchantAddr); got != 50 {
		t.Fatalf("expected fallback to standard 50 bps, got %d", got)
	}
}

func TestZeroRateChargesNoFee(t *testing.T) {
	env := newTestEnv(t, 0)
	env.ledger.Mint(tokenA, payerAddr, big.NewInt(12345))
	if err := env.ledger.IncreaseAllowance(tokenA, payerAddr, engineAddr, big.NewInt(12345)); err != nil {
		t.Fatalf("approving engine: %v", err)
	}

	receipt, err := env.engine.Settle(context.Background(), payerAddr, nil, tokenIntent(env, 12345))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if receipt.FeeAmount.Sign() != 0 {
		t.Fatalf("expected zero fee, got %s", receipt.FeeAmount)
	}
	if receipt.NetAmount.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("expected full amount net, got %s", receipt.NetAmount)
	}
}

func TestFeePlusNetEqualsReceiptAmount(t *testing.T) {
	env := newTestEnv(t, settlement.MaxServiceFeeBps)
	env.ledger.Mint(tokenA, payerAddr, big.NewInt(9999))
	if err := env.ledger.IncreaseAllowance(tokenA, payerAddr, engineAddr, big.NewInt(9999)); err != nil {
		t.Fatalf("approving engine: %v", err)
	}

	receipt, err := env.engine.Settle(context.Background(), payerAddr, nil, tokenIntent(env, 9999))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	total := new(big.Int).Add(receipt.FeeAmount, receipt.NetAmount)
	if total.Cmp(receipt.ReceiptAmount) != 0 {
		t.Fatalf("fee %s + net %s != receipt %s", receipt.FeeAmount, receipt.NetAmount, receipt.ReceiptAmount)
	}
	// floor(9999 * 100 / 10000) = 99
	if receipt.FeeAmount.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("expected floored fee 99, got %s", receipt.FeeAmount)
	}
}

func TestFeeChangedHook(t *testing.T) {
	env := newTestEnv(t, 0)

	var events []settlement.FeeChanged
	env.engine.OnFeeChanged(func(event settlement.FeeChanged) {
		events = append(events, event)
	})

	if err := env.engine.SetServiceFeePercent(ownerAddr, 42); err != nil {
		t.Fatalf("setting fee failed: %v", err)
	}
	if len(events) != 1 || events[0].RateBps != 42 {
		t.Fatalf("expected one FeeChanged(42), got %+v", events)
	}
}
