package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settlement "github.com/routepay/settlement-go"
)

var permitServiceAddr = common.HexToAddress("0x0000000000000000000000000000000000000778")

func newPermitFixture(t *testing.T) (*Ledger, *SignatureTransfer, *big.Int) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	l := New().WithClock(func() time.Time { return now })
	service := NewSignatureTransfer(l, permitServiceAddr, big.NewInt(1))
	return l, service, big.NewInt(now.Add(time.Hour).Unix())
}

func signedPermit(t *testing.T, service *SignatureTransfer, token common.Address, amount, nonce int64, deadline int64, to common.Address) (settlement.PermitTransferFrom, settlement.SignatureTransferDetails, []byte, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	permit := settlement.PermitTransferFrom{
		Token:    token,
		Amount:   big.NewInt(amount),
		Nonce:    big.NewInt(nonce),
		Deadline: deadline,
	}
	details := settlement.SignatureTransferDetails{
		To:              to,
		RequestedAmount: big.NewInt(amount),
	}

	digest, err := service.Digest(permit, details)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	return permit, details, sig, owner
}

func TestPermitTransferFrom(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, owner := signedPermit(t, service, testToken, 400, 1, deadline.Int64(), bob)
	l.Mint(testToken, owner, big.NewInt(400))

	require.NoError(t, service.PermitTransferFrom(context.Background(), permit, details, owner, sig))

	bal, err := l.BalanceOf(testToken, bob)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(400), bal)
	assert.True(t, l.NonceUsed(owner, big.NewInt(1)))
}

func TestPermitRejectsReplay(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, owner := signedPermit(t, service, testToken, 100, 2, deadline.Int64(), bob)
	l.Mint(testToken, owner, big.NewInt(200))

	require.NoError(t, service.PermitTransferFrom(context.Background(), permit, details, owner, sig))
	err := service.PermitTransferFrom(context.Background(), permit, details, owner, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
}

func TestPermitRejectsWrongSigner(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, _ := signedPermit(t, service, testToken, 100, 3, deadline.Int64(), bob)
	l.Mint(testToken, alice, big.NewInt(100))

	// alice did not sign this authorization
	err := service.PermitTransferFrom(context.Background(), permit, details, alice, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestPermitRejectsTamperedDetails(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, owner := signedPermit(t, service, testToken, 100, 4, deadline.Int64(), bob)
	l.Mint(testToken, owner, big.NewInt(100))

	// Redirecting the payout changes the digest and invalidates the signature.
	details.To = carol
	err := service.PermitTransferFrom(context.Background(), permit, details, owner, sig)
	require.Error(t, err)
}

func TestPermitRejectsExpiredDeadline(t *testing.T) {
	l, service, _ := newPermitFixture(t)

	expired := l.Now().Add(-time.Minute).Unix()
	permit, details, sig, owner := signedPermit(t, service, testToken, 100, 5, expired, bob)
	l.Mint(testToken, owner, big.NewInt(100))

	err := service.PermitTransferFrom(context.Background(), permit, details, owner, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestPermitRejectsOverdraw(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, owner := signedPermit(t, service, testToken, 100, 6, deadline.Int64(), bob)
	l.Mint(testToken, owner, big.NewInt(100))

	details.RequestedAmount = big.NewInt(101)
	err := service.PermitTransferFrom(context.Background(), permit, details, owner, sig)
	require.Error(t, err)
}

func TestPermitAcceptsLegacyRecoveryID(t *testing.T) {
	l, service, deadline := newPermitFixture(t)

	permit, details, sig, owner := signedPermit(t, service, testToken, 100, 7, deadline.Int64(), bob)
	l.Mint(testToken, owner, big.NewInt(100))

	// 27/28-style recovery identifier, as produced by most wallets.
	legacy := make([]byte, len(sig))
	copy(legacy, sig)
	legacy[64] += 27

	require.NoError(t, service.PermitTransferFrom(context.Background(), permit, details, owner, legacy))
}
