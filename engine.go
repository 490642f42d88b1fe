package settlement

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries the construction-time configuration of the engine.
type Config struct {
	// Runtime supplies atomic execution, native accounting and opaque call
	// dispatch.
	Runtime Runtime

	// Tokens supplies fungible-token semantics.
	Tokens TokenLedger

	// WrappedNative is the wrapped-native-currency facility.
	WrappedNative WrappedNative

	// Authorizer executes signature-authorized transfers.
	Authorizer TransferAuthorizer

	// Address is the engine's own account. Acquired funds pass through it
	// transiently within one invocation.
	Address common.Address

	// Owner is the single governance principal.
	Owner common.Address

	// FeeReceiver receives the protocol service fee.
	FeeReceiver common.Address

	// ServiceFeeBps is the initial standard fee rate, at most 100 (1%).
	ServiceFeeBps uint16

	// Logger defaults to a no-op logger when nil.
	Logger *zap.Logger
}

// Engine is the payment settlement core. It validates payment intents,
// acquires funds from the payer under one of three authorization models,
// optionally routes them through an external exchange, reconciles any
// excess, computes and distributes the service fee, and pays the merchant —
// all within one atomic invocation. The engine never holds value beyond a
// single invocation.
type Engine struct {
	runtime    Runtime
	tokens     TokenLedger
	wnative    WrappedNative
	authorizer TransferAuthorizer

	address     common.Address
	owner       common.Address
	feeReceiver common.Address

	govMu          sync.RWMutex
	standardFeeBps uint16
	specialFeeBps  map[common.Address]uint16
	paused         bool

	entered atomic.Bool

	hookMu               sync.RWMutex
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
	feeChangedHooks      []FeeChangedHook

	logger *zap.Logger
}

// NewEngine validates the configuration and constructs an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Runtime == nil {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "runtime is required", nil)
	}
	if cfg.Tokens == nil {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "token ledger is required", nil)
	}
	if cfg.WrappedNative == nil {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "wrapped-native facility is required", nil)
	}
	if cfg.Authorizer == nil {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "transfer authorizer is required", nil)
	}
	if cfg.Address == (common.Address{}) {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "engine address is the null address", nil)
	}
	if cfg.Owner == (common.Address{}) {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "owner is the null address", nil)
	}
	if cfg.FeeReceiver == (common.Address{}) {
		return nil, NewSettlementError(ErrCodeInvalidAddress, "fee receiver is the null address", nil)
	}
	if cfg.ServiceFeeBps > MaxServiceFeeBps {
		return nil, NewSettlementError(ErrCodeInvalidServiceFeePercent, "initial fee rate exceeds 100 bps", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		runtime:        cfg.Runtime,
		tokens:         cfg.Tokens,
		wnative:        cfg.WrappedNative,
		authorizer:     cfg.Authorizer,
		address:        cfg.Address,
		owner:          cfg.Owner,
		feeReceiver:    cfg.FeeReceiver,
		standardFeeBps: cfg.ServiceFeeBps,
		specialFeeBps:  make(map[common.Address]uint16),
		logger:         logger,
	}, nil
}

// Address returns the engine's own account address.
func (e *Engine) Address() common.Address {
	return e.address
}

// FeeReceiver returns the service-fee payout address.
func (e *Engine) FeeReceiver() common.Address {
	return e.feeReceiver
}

// Settle is the settlement entry point. It executes the full payment flow
// for one intent: validation, fund acquisition, optional exchange with
// excess reconciliation, fee distribution and merchant payout. value is the
// native amount the caller attaches to the invocation. The whole invocation
// commits atomically or rolls back as a unit.
func (e *Engine) Settle(ctx context.Context, caller common.Address, value *big.Int, intent PaymentIntent) (*PaymentReceipt, error) {
	if e.Paused() {
		return nil, NewSettlementError(ErrCodePaused, "settlement entry point is paused", nil)
	}
	if err := e.acquireGuard(); err != nil {
		return nil, err
	}
	defer e.releaseGuard()

	start := e.runtime.Now()
	hctx := SettleContext{
		Ctx:       ctx,
		Caller:    caller,
		Intent:    intent,
		Timestamp: start,
	}
	if err := e.runBeforeSettleHooks(hctx); err != nil {
		return nil, err
	}

	if value == nil {
		value = new(big.Int)
	}

	var receipt *PaymentReceipt
	err := e.runtime.Atomically(ctx, func() error {
		r, err := e.execute(ctx, caller, value, intent)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.logger.Info("settlement failed",
			zap.String("caller", caller.Hex()),
			zap.String("code", ErrorCode(err)),
			zap.Error(err))
		e.runSettleFailureHooks(SettleFailureContext{
			SettleContext: hctx,
			Error:         err,
			Duration:      e.runtime.Now().Sub(start),
		})
		return nil, err
	}

	e.logger.Info("payment success",
		zap.String("invocationId", receipt.InvocationID),
		zap.String("recipient", receipt.Recipient.Hex()),
		zap.String("receiptToken", receipt.ReceiptToken.Hex()),
		zap.String("netAmount", receipt.NetAmount.String()),
		zap.String("feeAmount", receipt.FeeAmount.String()))
	e.runAfterSettleHooks(SettleResultContext{
		SettleContext: hctx,
		Receipt:       *receipt,
		Duration:      e.runtime.Now().Sub(start),
	})
	return receipt, nil
}

// execute runs inside the atomic section. Any error unwinds every state
// change made here.
func (e *Engine) execute(ctx context.Context, caller common.Address, value *big.Int, intent PaymentIntent) (*PaymentReceipt, error) {
	if err := e.validateIntent(value, intent); err != nil {
		return nil, err
	}

	// The attached value moves into the engine account first so a rollback
	// refunds it together with everything else.
	if value.Sign() > 0 {
		if err := e.runtime.TransferNative(ctx, caller, e.address, value, nil); err != nil {
			return nil, wrapSettlementError(ErrCodeInvalidNativePaymentAmount, "attaching native value failed", err)
		}
	}

	payToken, err := e.acquireFunds(ctx, caller, intent)
	if err != nil {
		return nil, err
	}

	if intent.ExchangeType == ExchangeTypeSwap {
		if err := e.executeExchange(ctx, caller, payToken, intent); err != nil {
			return nil, err
		}
	}

	if intent.ReceiptAmount == nil {
		intent.ReceiptAmount = new(big.Int)
	}
	return e.distribute(ctx, intent)
}

// validateIntent checks the intent and the attached native value. Structural
// validity of addresses is enforced by downstream calls failing naturally.
func (e *Engine) validateIntent(value *big.Int, intent PaymentIntent) error {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return NewSettlementError(ErrCodeInvalidPaymentAmount, "payment amount must be positive", nil)
	}
	if intent.UsesNativeIn() && value.Cmp(intent.AmountIn) != 0 {
		return NewSettlementError(ErrCodeInvalidNativePaymentAmount,
			"attached native value does not match the payment amount",
			map[string]interface{}{
				"attached": value.String(),
				"amountIn": intent.AmountIn.String(),
			})
	}
	// Token-funded payments must not carry native value: nothing downstream
	// pays it out, so it would be stranded in the engine account.
	if !intent.UsesNativeIn() && value.Sign() > 0 {
		return NewSettlementError(ErrCodeInvalidNativePaymentAmount,
			"native value attached to a non-native payment",
			map[string]interface{}{
				"attached": value.String(),
			})
	}
	if e.runtime.Now().Unix() > intent.Deadline {
		return NewSettlementError(ErrCodePaymentExpired, "payment deadline has passed", nil)
	}
	return nil
}

// acquireFunds moves amountIn into the engine account through exactly one of
// the three funding paths and returns the token the engine now holds.
func (e *Engine) acquireFunds(ctx context.Context, caller common.Address, intent PaymentIntent) (common.Address, error) {
	switch {
	case intent.UsesNativeIn():
		// Wrap the attached native value; subsequent logic treats the
		// payment as using the wrapped token.
		if err := e.wnative.Deposit(e.address, intent.AmountIn); err != nil {
			return common.Address{}, wrapSettlementError(ErrCodeFundsAcquisitionFailed, "wrapping native value failed", err)
		}
		return e.wnative.Address(), nil

	case intent.SignatureTransfer != nil:
		st := intent.SignatureTransfer
		if err := e.authorizer.PermitTransferFrom(ctx, st.Permit, st.Details, caller, st.Signature); err != nil {
			return common.Address{}, wrapSettlementError(ErrCodeFundsAcquisitionFailed, "signature-authorized transfer failed", err)
		}
		return intent.TokenIn, nil

	default:
		if err := e.tokens.TransferFrom(intent.TokenIn, e.address, caller, e.address, intent.AmountIn); err != nil {
			return common.Address{}, wrapSettlementError(ErrCodeFundsAcquisitionFailed, "allowance-based transfer failed", err)
		}
		return intent.TokenIn, nil
	}
}

// executeExchange invokes the external exchange with the caller-supplied
// opaque payload and returns any unspent input to the original caller.
// Spent funds are measured by balance differencing, not by trusting the
// exchange's return value: an exchange consuming less than the full
// approved amount is handled correctly either way.
func (e *Engine) executeExchange(ctx context.Context, caller common.Address, payToken common.Address, intent PaymentIntent) error {
	if intent.ExchangeAddress == (common.Address{}) {
		return NewSettlementError(ErrCodeInvalidExchangeAddress, "exchange address is the null address", nil)
	}

	before, err := e.tokens.BalanceOf(payToken, e.address)
	if err != nil {
		return wrapSettlementError(ErrCodeExchangeCallFailed, "reading pre-exchange balance failed", err)
	}
	if err := e.tokens.IncreaseAllowance(payToken, e.address, intent.ExchangeAddress, intent.AmountIn); err != nil {
		return wrapSettlementError(ErrCodeExchangeCallFailed, "approving exchange spend failed", err)
	}
	if err := e.runtime.Call(ctx, e.address, intent.ExchangeAddress, intent.ExchangeCallData); err != nil {
		return wrapSettlementError(ErrCodeExchangeCallFailed, "exchange invocation failed", err)
	}
	after, err := e.tokens.BalanceOf(payToken, e.address)
	if err != nil {
		return wrapSettlementError(ErrCodeExchangeCallFailed, "reading post-exchange balance failed", err)
	}

	actualSpent := new(big.Int).Sub(before, after)
	excess := new(big.Int).Sub(intent.AmountIn, actualSpent)
	if excess.Sign() <= 0 {
		return nil
	}

	// Unspent input goes back to the original caller, in native form when
	// the original input was native.
	if intent.UsesNativeIn() {
		if err := e.wnative.Withdraw(e.address, excess); err != nil {
			return wrapSettlementError(ErrCodeSweepExcessNativeFailed, "unwrapping excess failed", err)
		}
		if err := e.runtime.TransferNative(ctx, e.address, caller, excess, nil); err != nil {
			return wrapSettlementError(ErrCodeSweepExcessNativeFailed, "returning excess native failed", err)
		}
		return nil
	}
	if err := e.tokens.Transfer(payToken, e.address, caller, excess); err != nil {
		return wrapSettlementError(ErrCodeTokenTransferFailed, "returning excess tokens failed", err)
	}
	return nil
}

// distribute pays the service fee and the merchant. By this point the engine
// holds exactly receiptAmount of receiptToken-equivalent value; that
// equality is supplied by the caller's upstream pricing, not verified here.
func (e *Engine) distribute(ctx context.Context, intent PaymentIntent) (*PaymentReceipt, error) {
	rate := e.GetServiceFee(intent.PaymentReceiver)
	feeAmount := feeFor(intent.ReceiptAmount, rate)
	netAmount := new(big.Int).Sub(intent.ReceiptAmount, feeAmount)

	if intent.UsesNativeOut() {
		// The engine holds the wrapped representation; convert back to
		// native before paying out.
		if err := e.wnative.Withdraw(e.address, intent.ReceiptAmount); err != nil {
			return nil, wrapSettlementError(ErrCodeReceiverNativePaymentFailed, "unwrapping receipt amount failed", err)
		}
		if err := e.runtime.TransferNative(ctx, e.address, e.feeReceiver, feeAmount, nil); err != nil {
			return nil, wrapSettlementError(ErrCodeServiceFeeNativePaymentFailed, "native service fee payment failed", err)
		}
		if err := e.runtime.TransferNative(ctx, e.address, intent.PaymentReceiver, netAmount, intent.ReceiverCallData); err != nil {
			return nil, wrapSettlementError(ErrCodeReceiverNativePaymentFailed, "native receiver payment failed", err)
		}
	} else {
		if err := e.tokens.Transfer(intent.ReceiptToken, e.address, e.feeReceiver, feeAmount); err != nil {
			return nil, wrapSettlementError(ErrCodeTokenTransferFailed, "service fee transfer failed", err)
		}
		if err := e.tokens.Transfer(intent.ReceiptToken, e.address, intent.PaymentReceiver, netAmount); err != nil {
			return nil, wrapSettlementError(ErrCodeTokenTransferFailed, "receiver transfer failed", err)
		}
		if len(intent.ReceiverCallData) > 0 {
			if err := e.runtime.Call(ctx, e.address, intent.PaymentReceiver, intent.ReceiverCallData); err != nil {
				return nil, wrapSettlementError(ErrCodeReceiverCallFailed, "receiver callback failed", err)
			}
		}
	}

	return &PaymentReceipt{
		InvocationID:  uuid.NewString(),
		Recipient:     intent.PaymentReceiver,
		ReceiptToken:  intent.ReceiptToken,
		ReceiptAmount: new(big.Int).Set(intent.ReceiptAmount),
		NetAmount:     netAmount,
		FeeAmount:     feeAmount,
		Timestamp:     e.runtime.Now(),
	}, nil
}
