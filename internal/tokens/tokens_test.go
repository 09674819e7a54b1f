package tokens

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testService() *Service {
	return New(DefaultConfig([]byte("test-secret-at-least-32-bytes-long!")))
}

func TestMintVerifyRoundTrip(t *testing.T) {
	svc := testService()
	uid := uuid.New()

	minted, err := svc.Mint(uid, Access)
	require.NoError(t, err)
	require.NotEmpty(t, minted.Token)

	verified, err := svc.Verify(minted.Token, Access)
	require.NoError(t, err)
	require.Equal(t, uid, verified.UserID)
	require.Equal(t, Access, verified.Type)
	require.True(t, verified.ExpiresAt.After(verified.IssuedAt) || verified.ExpiresAt.Equal(verified.IssuedAt))
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	svc := testService()
	uid := uuid.New()

	minted, err := svc.Mint(uid, Refresh)
	require.NoError(t, err)

	_, err = svc.Verify(minted.Token, Access)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	cfg := DefaultConfig([]byte("test-secret-at-least-32-bytes-long!"))
	cfg.AccessTTL = -time.Hour // already expired, beyond clock-skew leeway
	svc := New(cfg)

	minted, err := svc.Mint(uuid.New(), Access)
	require.NoError(t, err)

	_, err = svc.Verify(minted.Token, Access)
	require.Error(t, err)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	svc := testService()
	other := New(DefaultConfig([]byte("a-totally-different-secret-value!!!")))

	minted, err := other.Mint(uuid.New(), Access)
	require.NoError(t, err)

	_, err = svc.Verify(minted.Token, Access)
	require.Error(t, err)
}
