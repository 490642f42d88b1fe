package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Runtime is the execution environment the engine runs inside. It supplies
// atomic, serialized invocation semantics, native-currency accounting, and
// opaque dispatch to registered call targets.
type Runtime interface {
	// Atomically runs fn under the runtime's global invocation lock. When fn
	// returns an error, every state change fn made is rolled back and the
	// error is returned. No two invocations execute concurrently.
	Atomically(ctx context.Context, fn func() error) error

	// Now returns the runtime's current time. Intent deadlines are checked
	// against it.
	Now() time.Time

	// NativeBalance returns the native-currency balance of account.
	NativeBalance(account common.Address) *big.Int

	// TransferNative performs a raw value transfer. When a call target is
	// registered at to, its handler is invoked with data after the value is
	// credited; a handler failure fails the transfer.
	TransferNative(ctx context.Context, from, to common.Address, amount *big.Int, data []byte) error

	// Call invokes the call target registered at target with the opaque
	// payload. The payload's interpretation is entirely the target's.
	Call(ctx context.Context, caller, target common.Address, data []byte) error
}

// TokenLedger exposes standard fungible-token semantics, keyed by token
// address.
type TokenLedger interface {
	// BalanceOf returns account's balance of token.
	BalanceOf(token, account common.Address) (*big.Int, error)

	// Transfer moves amount of token from from to to.
	Transfer(token, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount of token from owner to to, consuming
	// spender's allowance over owner's balance.
	TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error

	// IncreaseAllowance raises spender's allowance over owner's balance of
	// token by amount.
	IncreaseAllowance(token, owner, spender common.Address, amount *big.Int) error
}

// WrappedNative is a wrapped-native-currency facility with deposit/withdraw
// parity against native balance.
type WrappedNative interface {
	// Address is the token address of the wrapped representation.
	Address() common.Address

	// Deposit converts amount of from's native balance into wrapped tokens.
	Deposit(from common.Address, amount *big.Int) error

	// Withdraw converts amount of from's wrapped tokens back to native.
	Withdraw(from common.Address, amount *big.Int) error
}

// TransferAuthorizer executes pre-signed transfers. Signature validation is
// the authorizer's responsibility, not the engine's; its failure fails the
// whole settlement invocation.
type TransferAuthorizer interface {
	PermitTransferFrom(
		ctx context.Context,
		permit PermitTransferFrom,
		details SignatureTransferDetails,
		owner common.Address,
		signature []byte,
	) error
}
