// Package ledger provides an in-memory runtime with the execution guarantees
// the settlement engine expects from the underlying ledger: globally
// serialized invocations, deterministic balance accounting, and atomic
// commit-or-rollback around each invocation.
//
// It is a library, not a chain client. Call targets are plain Go handlers
// registered at addresses, which keeps exchange and receiver collaborators
// pluggable in tests and local deployments.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Handler is a call target registered at an address. It receives the opaque
// payload of the invocation; interpreting it is entirely the handler's
// business.
type Handler func(ctx context.Context, call Call) error

// Call carries one inbound invocation of a call target.
type Call struct {
	Caller common.Address
	Value  *big.Int
	Data   []byte
}

// Ledger holds native balances, token balances, allowances, replay nonces
// and registered call targets. All state mutated inside Atomically is
// restored on failure.
type Ledger struct {
	invMu sync.Mutex // serializes invocations; Atomically is not reentrant

	mu         sync.RWMutex
	native     map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int            // token -> holder
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int // token -> owner -> spender
	usedNonces map[common.Address]map[string]struct{}
	handlers   map[common.Address]Handler

	now func() time.Time
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		native:     make(map[common.Address]*big.Int),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		usedNonces: make(map[common.Address]map[string]struct{}),
		handlers:   make(map[common.Address]Handler),
		now:        time.Now,
	}
}

// WithClock overrides the ledger clock for deterministic tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// RegisterContract installs a call target at addr. Value transfers to addr
// and Call invocations against addr dispatch to handler.
func (l *Ledger) RegisterContract(addr common.Address, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[addr] = handler
}

// Atomically runs fn under the global invocation lock. When fn fails, every
// balance, allowance and nonce change it made is rolled back before the
// error is returned.
func (l *Ledger) Atomically(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.invMu.Lock()
	defer l.invMu.Unlock()

	snap := l.snapshot()
	if err := fn(); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

// NativeBalance returns account's native balance.
func (l *Ledger) NativeBalance(account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.native[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// CreditNative adds amount to account's native balance. Genesis/test helper.
func (l *Ledger) CreditNative(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditNativeLocked(account, amount)
}

// TransferNative performs a raw value transfer. A handler registered at to
// runs after the value is credited; its failure fails the transfer. Callers
// outside an atomic section must not rely on rollback.
func (l *Ledger) TransferNative(ctx context.Context, from, to common.Address, amount *big.Int, data []byte) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("ledger: negative native transfer")
	}

	l.mu.Lock()
	bal := l.native[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("ledger: insufficient native balance at %s", from.Hex())
	}
	bal.Sub(bal, amount)
	l.creditNativeLocked(to, amount)
	handler := l.handlers[to]
	l.mu.Unlock()

	if handler != nil {
		if err := handler(ctx, Call{Caller: from, Value: new(big.Int).Set(amount), Data: data}); err != nil {
			return fmt.Errorf("ledger: native transfer rejected by %s: %w", to.Hex(), err)
		}
	}
	return nil
}

// Call invokes the call target registered at target with the opaque payload.
func (l *Ledger) Call(ctx context.Context, caller, target common.Address, data []byte) error {
	l.mu.RLock()
	handler := l.handlers[target]
	l.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("ledger: no call target at %s", target.Hex())
	}
	return handler(ctx, Call{Caller: caller, Value: new(big.Int), Data: data})
}

// UseNonce consumes a single-use nonce for owner. Consumption participates
// in atomic rollback like any other state change.
func (l *Ledger) UseNonce(owner common.Address, nonce *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := nonce.String()
	if _, used := l.usedNonces[owner][key]; used {
		return fmt.Errorf("ledger: nonce %s already used by %s", key, owner.Hex())
	}
	if l.usedNonces[owner] == nil {
		l.usedNonces[owner] = make(map[string]struct{})
	}
	l.usedNonces[owner][key] = struct{}{}
	return nil
}

// NonceUsed reports whether owner has consumed nonce.
func (l *Ledger) NonceUsed(owner common.Address, nonce *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, used := l.usedNonces[owner][nonce.String()]
	return used
}

func (l *Ledger) creditNativeLocked(account common.Address, amount *big.Int) {
	if bal, ok := l.native[account]; ok {
		bal.Add(bal, amount)
		return
	}
	l.native[account] = new(big.Int).Set(amount)
}

// snapshotState is a deep copy of all rollback-covered ledger state.
type snapshotState struct {
	native     map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	usedNonces map[common.Address]map[string]struct{}
}

func (l *Ledger) snapshot() *snapshotState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &snapshotState{
		native:     make(map[common.Address]*big.Int, len(l.native)),
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(l.balances)),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int, len(l.allowances)),
		usedNonces: make(map[common.Address]map[string]struct{}, len(l.usedNonces)),
	}
	for acct, bal := range l.native {
		snap.native[acct] = new(big.Int).Set(bal)
	}
	for token, holders := range l.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		snap.balances[token] = copied
	}
	for token, owners := range l.allowances {
		copiedOwners := make(map[common.Address]map[common.Address]*big.Int, len(owners))
		for owner, spenders := range owners {
			copiedSpenders := make(map[common.Address]*big.Int, len(spenders))
			for spender, amount := range spenders {
				copiedSpenders[spender] = new(big.Int).Set(amount)
			}
			copiedOwners[owner] = copiedSpenders
		}
		snap.allowances[token] = copiedOwners
	}
	for owner, nonces := range l.usedNonces {
		copied := make(map[string]struct{}, len(nonces))
		for nonce := range nonces {
			copied[nonce] = struct{}{}
		}
		snap.usedNonces[owner] = copied
	}
	return snap
}

func (l *Ledger) restore(snap *snapshotState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native = snap.native
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.usedNonces = snap.usedNonces
}
