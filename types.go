package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the sentinel address denoting the chain's native currency.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// ExchangeType discriminates how acquired funds are routed before payout.
type ExchangeType uint8

const (
	// ExchangeTypeNone performs no exchange: wrap/unwrap or passthrough only.
	ExchangeTypeNone ExchangeType = 0
	// ExchangeTypeSwap routes acquired funds through an external exchange.
	ExchangeTypeSwap ExchangeType = 1
)

// PaymentIntent describes one desired payment. It is caller-supplied and
// immutable for the duration of one settlement invocation.
type PaymentIntent struct {
	// AmountIn is the quantity of TokenIn the payer commits. Must be positive.
	AmountIn *big.Int

	// ReceiptAmount is the exact quantity of ReceiptToken the merchant is
	// owed before fee deduction.
	ReceiptAmount *big.Int

	// Deadline is the unix timestamp after which the intent is void.
	Deadline int64

	// TokenIn is the token the payer pays with. NativeToken denotes the
	// chain's native currency.
	TokenIn common.Address

	// ReceiptToken is the token the merchant receives. NativeToken denotes
	// the chain's native currency.
	ReceiptToken common.Address

	// ExchangeAddress is the target of the optional exchange step.
	ExchangeAddress common.Address

	// ExchangeCallData is the opaque payload forwarded to the exchange.
	ExchangeCallData []byte

	// ExchangeType selects whether an exchange step is required.
	ExchangeType ExchangeType

	// PaymentReceiver is the merchant payout address.
	PaymentReceiver common.Address

	// ReceiverCallData is an opaque payload forwarded to the receiver after
	// payout. Empty means no receiver callback.
	ReceiverCallData []byte

	// SignatureTransfer, when non-nil, funds the payment through a pre-signed
	// authorization instead of a standing allowance.
	SignatureTransfer *SignatureTransferData
}

// UsesNativeIn reports whether the payer funds the intent with native currency.
func (p PaymentIntent) UsesNativeIn() bool {
	return p.TokenIn == NativeToken
}

// UsesNativeOut reports whether the merchant is paid in native currency.
func (p PaymentIntent) UsesNativeOut() bool {
	return p.ReceiptToken == NativeToken
}

// PermitTransferFrom is the signed portion of a signature-authorized transfer.
type PermitTransferFrom struct {
	// Token and Amount describe the maximum permitted movement.
	Token  common.Address
	Amount *big.Int

	// Nonce is a single-use value chosen by the signer.
	Nonce *big.Int

	// Deadline is the unix timestamp after which the authorization is void.
	Deadline int64
}

// SignatureTransferDetails describes the transfer actually requested under a
// permit. RequestedAmount may be at most the permitted amount.
type SignatureTransferDetails struct {
	To              common.Address
	RequestedAmount *big.Int
}

// SignatureTransferData bundles a pre-signed authorization with the transfer
// it funds. Its presence on an intent selects the signature-transfer path.
type SignatureTransferData struct {
	Permit    PermitTransferFrom
	Details   SignatureTransferDetails
	Signature []byte
}

// PaymentReceipt is the success record emitted by a settlement.
type PaymentReceipt struct {
	// InvocationID uniquely identifies this settlement invocation.
	InvocationID string `json:"invocationId"`

	// Recipient is the merchant payout address.
	Recipient common.Address `json:"recipient"`

	// ReceiptToken is the token the merchant was paid in.
	ReceiptToken common.Address `json:"receiptToken"`

	// ReceiptAmount is the gross amount owed before fee deduction.
	ReceiptAmount *big.Int `json:"receiptAmount"`

	// NetAmount is what the merchant received after the fee.
	NetAmount *big.Int `json:"netAmount"`

	// FeeAmount is what the fee receiver received.
	FeeAmount *big.Int `json:"feeAmount"`

	// Timestamp is when the settlement committed.
	Timestamp time.Time `json:"timestamp"`
}

// FeeChanged is the record emitted when the standard service fee changes.
type FeeChanged struct {
	RateBps uint16 `json:"rateBps"`
}
