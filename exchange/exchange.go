// Package exchange provides a reference exchange collaborator for the
// settlement engine. The engine treats exchanges as opaque call targets; this
// one interprets its payload as a fixed-rate swap order against the ledger.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/routepay/settlement-go/ledger"
)

// Order is the payload a caller encodes into the opaque exchange call data.
// Amounts are decimal strings in minimal token units.
type Order struct {
	// SpendAmount is how much of the input token the exchange consumes. It
	// may be less than the caller's approval; the remainder stays with the
	// caller and is reconciled by balance differencing on their side.
	SpendAmount string `json:"spendAmount"`

	// Reject forces the order to fail. Exists so integrations can exercise
	// exchange-failure paths.
	Reject bool `json:"reject,omitempty"`
}

// EncodeOrder serializes an order into exchange call data.
func EncodeOrder(order Order) []byte {
	data, err := json.Marshal(order)
	if err != nil {
		// Order has no unmarshalable fields; this cannot happen.
		panic(err)
	}
	return data
}

// FixedRate swaps an input token for an output token at a constant
// numerator/denominator rate. Output inventory must be funded onto the
// exchange's account up front.
type FixedRate struct {
	ledger   *ledger.Ledger
	addr     common.Address
	tokenIn  common.Address
	tokenOut common.Address
	rateNum  *big.Int
	rateDen  *big.Int
}

// NewFixedRate constructs a fixed-rate exchange and registers it as a call
// target at addr.
func NewFixedRate(l *ledger.Ledger, addr, tokenIn, tokenOut common.Address, rateNum, rateDen int64) (*FixedRate, error) {
	if rateDen == 0 {
		return nil, errors.New("exchange: zero rate denominator")
	}
	x := &FixedRate{
		ledger:   l,
		addr:     addr,
		tokenIn:  tokenIn,
		tokenOut: tokenOut,
		rateNum:  big.NewInt(rateNum),
		rateDen:  big.NewInt(rateDen),
	}
	l.RegisterContract(addr, x.handle)
	return x, nil
}

// Address is the exchange's call-target address.
func (x *FixedRate) Address() common.Address {
	return x.addr
}

// handle executes one swap order. The input is pulled from the caller via
// allowance, the output is paid from the exchange's inventory.
func (x *FixedRate) handle(_ context.Context, call ledger.Call) error {
	var order Order
	if err := json.Unmarshal(call.Data, &order); err != nil {
		return fmt.Errorf("exchange: malformed order: %w", err)
	}
	if order.Reject {
		return errors.New("exchange: order rejected")
	}

	spend, ok := new(big.Int).SetString(order.SpendAmount, 10)
	if !ok || spend.Sign() <= 0 {
		return fmt.Errorf("exchange: invalid spend amount %q", order.SpendAmount)
	}

	out := new(big.Int).Mul(spend, x.rateNum)
	out.Div(out, x.rateDen)

	if err := x.ledger.TransferFrom(x.tokenIn, x.addr, call.Caller, x.addr, spend); err != nil {
		return fmt.Errorf("exchange: pulling input: %w", err)
	}
	if err := x.ledger.Transfer(x.tokenOut, x.addr, call.Caller, out); err != nil {
		return fmt.Errorf("exchange: paying output: %w", err)
	}
	return nil
}
