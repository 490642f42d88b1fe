package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The ledger implements settlement.TokenLedger with standard fungible-token
// semantics, keyed by token address.

// BalanceOf returns account's balance of token.
func (l *Ledger) BalanceOf(token, account common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[token][account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Transfer moves amount of token from from to to.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amount)
}

// TransferFrom moves amount of token from owner to to, consuming spender's
// allowance over owner's balance.
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[token][owner][spender]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer amount exceeds allowance of %s over %s", spender.Hex(), owner.Hex())
	}
	if err := l.transferLocked(token, owner, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// IncreaseAllowance raises spender's allowance over owner's balance of token.
func (l *Ledger) IncreaseAllowance(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative allowance increase")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if l.allowances[token][owner] == nil {
		l.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	if existing, ok := l.allowances[token][owner][spender]; ok {
		existing.Add(existing, amount)
	} else {
		l.allowances[token][owner][spender] = new(big.Int).Set(amount)
	}
	return nil
}

// Allowance returns spender's remaining allowance over owner's token balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if allowance, ok := l.allowances[token][owner][spender]; ok {
		return new(big.Int).Set(allowance)
	}
	return new(big.Int)
}

// Mint credits account with amount of token. Genesis/test helper.
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintLocked(token, account, amount)
}

func (l *Ledger) mintLocked(token, account common.Address, amount *big.Int) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	if bal, ok := l.balances[token][account]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[token][account] = new(big.Int).Set(amount)
}

func (l *Ledger) burnLocked(token, account common.Address, amount *big.Int) error {
	bal := l.balances[token][account]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: burn amount exceeds balance of %s", account.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *Ledger) transferLocked(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative token transfer")
	}
	bal := l.balances[token][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer amount exceeds balance of %s", from.Hex())
	}
	bal.Sub(bal, amount)
	l.mintLocked(token, to, amount)
	return nil
}
