package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	settlement "github.com/routepay/settlement-go"
)

// Signature-transfer domain constants.
const (
	permitDomainName    = "RoutePay Signature Transfer"
	permitDomainVersion = "1"
	permitPrimaryType   = "PermitTransferFrom"
)

// SignatureTransfer executes pre-signed transfers in the permit2 family:
// the payer signs an EIP-712 authorization off-ledger, and anyone holding
// the signature can move the authorized funds once, before the deadline,
// without a standing allowance. Implements settlement.TransferAuthorizer.
type SignatureTransfer struct {
	ledger  *Ledger
	addr    common.Address
	chainID *big.Int
}

// NewSignatureTransfer installs a signature-transfer service at addr for the
// given chain identifier.
func NewSignatureTransfer(l *Ledger, addr common.Address, chainID *big.Int) *SignatureTransfer {
	return &SignatureTransfer{ledger: l, addr: addr, chainID: new(big.Int).Set(chainID)}
}

// Address is the verifying-contract address of the service.
func (s *SignatureTransfer) Address() common.Address {
	return s.addr
}

// PermitTransferFrom validates the authorization and executes the requested
// transfer from owner. The engine does not validate the signature itself;
// that responsibility is entirely here, and any failure fails the whole
// settlement invocation.
func (s *SignatureTransfer) PermitTransferFrom(
	ctx context.Context,
	permit settlement.PermitTransferFrom,
	details settlement.SignatureTransferDetails,
	owner common.Address,
	signature []byte,
) error {
	_ = ctx

	if permit.Amount == nil || details.RequestedAmount == nil {
		return fmt.Errorf("permit: missing amount")
	}
	if s.ledger.Now().Unix() > permit.Deadline {
		return fmt.Errorf("permit: authorization deadline has passed")
	}
	if details.RequestedAmount.Cmp(permit.Amount) > 0 {
		return fmt.Errorf("permit: requested amount exceeds permitted amount")
	}
	if permit.Nonce == nil {
		return fmt.Errorf("permit: missing nonce")
	}

	digest, err := s.Digest(permit, details)
	if err != nil {
		return fmt.Errorf("permit: hashing authorization: %w", err)
	}
	signer, err := recoverSigner(digest, signature)
	if err != nil {
		return fmt.Errorf("permit: recovering signer: %w", err)
	}
	if signer != owner {
		return fmt.Errorf("permit: signature does not match owner %s", owner.Hex())
	}

	if err := s.ledger.UseNonce(owner, permit.Nonce); err != nil {
		return fmt.Errorf("permit: %w", err)
	}
	if err := s.ledger.Transfer(permit.Token, owner, details.To, details.RequestedAmount); err != nil {
		return fmt.Errorf("permit: executing transfer: %w", err)
	}
	return nil
}

// Digest computes the EIP-712 digest a payer signs to authorize the
// transfer: keccak256("\x19\x01" || domainSeparator || structHash).
func (s *SignatureTransfer) Digest(
	permit settlement.PermitTransferFrom,
	details settlement.SignatureTransferDetails,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			permitPrimaryType: {
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: permitPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              permitDomainName,
			Version:           permitDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: s.addr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"token":    permit.Token.Hex(),
			"amount":   permit.Amount.String(),
			"spender":  details.To.Hex(),
			"nonce":    permit.Nonce.String(),
			"deadline": new(big.Int).SetInt64(permit.Deadline).String(),
		},
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hashing struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hashing domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)
	return crypto.Keccak256(rawData), nil
}

// recoverSigner recovers the signing address from a 65-byte signature over
// digest, accepting both 0/1 and 27/28 recovery identifiers.
func recoverSigner(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
