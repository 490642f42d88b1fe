package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WrappedNative is the wrapped-native-currency facility. Deposited native
// value is held in the facility's own account, so the wrapped supply is
// always fully backed and deposit/withdraw keep exact parity.
type WrappedNative struct {
	ledger *Ledger
	addr   common.Address
}

// NewWrappedNative installs a wrapped-native facility at addr.
func NewWrappedNative(l *Ledger, addr common.Address) *WrappedNative {
	return &WrappedNative{ledger: l, addr: addr}
}

// Address is the token address of the wrapped representation.
func (w *WrappedNative) Address() common.Address {
	return w.addr
}

// Deposit converts amount of from's native balance into wrapped tokens.
func (w *WrappedNative) Deposit(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("wnative: negative deposit")
	}

	l := w.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.native[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("wnative: deposit exceeds native balance of %s", from.Hex())
	}
	bal.Sub(bal, amount)
	l.creditNativeLocked(w.addr, amount)
	l.mintLocked(w.addr, from, amount)
	return nil
}

// Withdraw converts amount of from's wrapped tokens back to native.
func (w *WrappedNative) Withdraw(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("wnative: negative withdrawal")
	}

	l := w.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.burnLocked(w.addr, from, amount); err != nil {
		return fmt.Errorf("wnative: %w", err)
	}
	reserve := l.native[w.addr]
	if reserve == nil || reserve.Cmp(amount) < 0 {
		return fmt.Errorf("wnative: reserve underflow")
	}
	reserve.Sub(reserve, amount)
	l.creditNativeLocked(from, amount)
	return nil
}
