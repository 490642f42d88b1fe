package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// settleRequestSchema constrains the settle document shape before decoding.
// Amount and address formats are re-checked during decoding; the schema
// front-loads the structural errors so callers get field-level messages.
const settleRequestSchema = `{
	"type": "object",
	"required": ["caller", "intent"],
	"properties": {
		"caller": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"attachedValue": {"type": "string", "pattern": "^[0-9]+$"},
		"intent": {
			"type": "object",
			"required": ["amountIn", "receiptAmount", "deadline", "tokenIn", "receiptToken", "paymentReceiver"],
			"properties": {
				"amountIn": {"type": "string", "pattern": "^[0-9]+$"},
				"receiptAmount": {"type": "string", "pattern": "^[0-9]+$"},
				"deadline": {"type": "integer"},
				"tokenIn": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"receiptToken": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"exchangeAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"exchangeCallData": {"type": "string"},
				"exchangeType": {"type": "integer", "enum": [0, 1]},
				"paymentReceiver": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"receiverCallData": {"type": "string"},
				"signatureTransfer": {
					"type": "object",
					"required": ["token", "amount", "nonce", "deadline", "to", "requestedAmount", "signature"],
					"properties": {
						"token": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"amount": {"type": "string", "pattern": "^[0-9]+$"},
						"nonce": {"type": "string", "pattern": "^[0-9]+$"},
						"deadline": {"type": "integer"},
						"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"requestedAmount": {"type": "string", "pattern": "^[0-9]+$"},
						"signature": {"type": "string"}
					}
				}
			}
		}
	}
}`

var settleSchema = gojsonschema.NewStringLoader(settleRequestSchema)

// validateSettleDocument validates the raw settle request body against the
// schema and returns a descriptive error for the first violation.
func validateSettleDocument(body []byte) error {
	result, err := gojsonschema.Validate(settleSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid settle document: %w", err)
	}
	if !result.Valid() {
		for _, violation := range result.Errors() {
			return fmt.Errorf("invalid settle document: %s", violation.String())
		}
	}
	return nil
}
