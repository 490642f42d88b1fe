// Package http exposes the settlement engine over HTTP.
package http

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	settlement "github.com/routepay/settlement-go"
)

var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// SettleRequest is the wire form of one settlement invocation. Amounts are
// decimal strings in minimal token units; opaque payloads are base64.
type SettleRequest struct {
	Caller        string     `json:"caller"`
	AttachedValue string     `json:"attachedValue,omitempty"`
	Intent        WireIntent `json:"intent"`
}

// WireIntent is the wire form of a payment intent.
type WireIntent struct {
	AmountIn          string                 `json:"amountIn"`
	ReceiptAmount     string                 `json:"receiptAmount"`
	Deadline          int64                  `json:"deadline"`
	TokenIn           string                 `json:"tokenIn"`
	ReceiptToken      string                 `json:"receiptToken"`
	ExchangeAddress   string                 `json:"exchangeAddress,omitempty"`
	ExchangeCallData  string                 `json:"exchangeCallData,omitempty"`
	ExchangeType      uint8                  `json:"exchangeType"`
	PaymentReceiver   string                 `json:"paymentReceiver"`
	ReceiverCallData  string                 `json:"receiverCallData,omitempty"`
	SignatureTransfer *WireSignatureTransfer `json:"signatureTransfer,omitempty"`
}

// WireSignatureTransfer is the wire form of a signature-authorized transfer
// descriptor.
type WireSignatureTransfer struct {
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	Nonce           string `json:"nonce"`
	Deadline        int64  `json:"deadline"`
	To              string `json:"to"`
	RequestedAmount string `json:"requestedAmount"`
	Signature       string `json:"signature"`
}

// SettleResponse carries the success record back to the caller.
type SettleResponse struct {
	Receipt *settlement.PaymentReceipt `json:"receipt"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error *settlement.SettlementError `json:"error"`
}

func parseAddress(field, value string) (common.Address, error) {
	if !addressRegex.MatchString(value) {
		return common.Address{}, fmt.Errorf("invalid field %s: not a hex address", field)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid field %s: not a decimal amount", field)
	}
	return amount, nil
}

func parseOptionalBytes(field, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid field %s: not valid base64", field)
	}
	return data, nil
}

// decodeIntent converts the wire form into the engine's intent type.
func decodeIntent(w WireIntent) (settlement.PaymentIntent, error) {
	var intent settlement.PaymentIntent
	var err error

	if intent.AmountIn, err = parseAmount("intent.amountIn", w.AmountIn); err != nil {
		return intent, err
	}
	if intent.ReceiptAmount, err = parseAmount("intent.receiptAmount", w.ReceiptAmount); err != nil {
		return intent, err
	}
	intent.Deadline = w.Deadline
	if intent.TokenIn, err = parseAddress("intent.tokenIn", w.TokenIn); err != nil {
		return intent, err
	}
	if intent.ReceiptToken, err = parseAddress("intent.receiptToken", w.ReceiptToken); err != nil {
		return intent, err
	}
	if w.ExchangeAddress != "" {
		if intent.ExchangeAddress, err = parseAddress("intent.exchangeAddress", w.ExchangeAddress); err != nil {
			return intent, err
		}
	}
	if intent.ExchangeCallData, err = parseOptionalBytes("intent.exchangeCallData", w.ExchangeCallData); err != nil {
		return intent, err
	}
	intent.ExchangeType = settlement.ExchangeType(w.ExchangeType)
	if intent.PaymentReceiver, err = parseAddress("intent.paymentReceiver", w.PaymentReceiver); err != nil {
		return intent, err
	}
	if intent.ReceiverCallData, err = parseOptionalBytes("intent.receiverCallData", w.ReceiverCallData); err != nil {
		return intent, err
	}

	if w.SignatureTransfer != nil {
		st, err := decodeSignatureTransfer(*w.SignatureTransfer)
		if err != nil {
			return intent, err
		}
		intent.SignatureTransfer = st
	}
	return intent, nil
}

func decodeSignatureTransfer(w WireSignatureTransfer) (*settlement.SignatureTransferData, error) {
	var st settlement.SignatureTransferData
	var err error

	if st.Permit.Token, err = parseAddress("signatureTransfer.token", w.Token); err != nil {
		return nil, err
	}
	if st.Permit.Amount, err = parseAmount("signatureTransfer.amount", w.Amount); err != nil {
		return nil, err
	}
	nonce, ok := new(big.Int).SetString(w.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("invalid field signatureTransfer.nonce: not a decimal value")
	}
	st.Permit.Nonce = nonce
	st.Permit.Deadline = w.Deadline
	if st.Details.To, err = parseAddress("signatureTransfer.to", w.To); err != nil {
		return nil, err
	}
	if st.Details.RequestedAmount, err = parseAmount("signatureTransfer.requestedAmount", w.RequestedAmount); err != nil {
		return nil, err
	}
	if st.Signature, err = parseOptionalBytes("signatureTransfer.signature", w.Signature); err != nil {
		return nil, err
	}
	if len(st.Signature) == 0 {
		return nil, fmt.Errorf("invalid field signatureTransfer.signature: required")
	}
	return &st, nil
}
