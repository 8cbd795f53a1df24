package credential_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
)

func TestMintThenVerifyRoundTrip(t *testing.T) {
	c := credential.NewCodec([]byte("super-secret"), time.Minute, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	access, refresh, err := c.Mint("peer-1", 7, credential.RoleHost, now)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh.Blob)
	assert.True(t, refresh.Expiry.After(now))

	claims, err := c.Verify(access, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ids.PeerId("peer-1"), claims.PeerID)
	assert.EqualValues(t, 7, claims.RoomID)
	assert.Equal(t, credential.RoleHost, claims.Role)
}

func TestVerifyExpired(t *testing.T) {
	c := credential.NewCodec([]byte("super-secret"), time.Minute, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	access, _, err := c.Mint("peer-1", 1, credential.RoleGuest, now)
	require.NoError(t, err)

	_, err = c.Verify(access, now.Add(time.Minute+time.Nanosecond))
	assert.ErrorIs(t, err, credential.ErrExpired)
}

func TestVerifyExpiryIsExclusive(t *testing.T) {
	// spec.md §9: expired iff exp <= now, i.e. exp == now must be treated
	// as expired, not valid.
	c := credential.NewCodec([]byte("s"), time.Minute, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	access, _, err := c.Mint("peer-1", 1, credential.RoleGuest, now)
	require.NoError(t, err)

	_, err = c.Verify(access, now.Add(time.Minute))
	assert.ErrorIs(t, err, credential.ErrExpired)
}

func TestVerifyBadSignature(t *testing.T) {
	a := credential.NewCodec([]byte("secret-a"), time.Minute, time.Hour)
	b := credential.NewCodec([]byte("secret-b"), time.Minute, time.Hour)
	now := time.Now()

	access, _, err := a.Mint("peer-1", 1, credential.RoleGuest, now)
	require.NoError(t, err)

	_, err = b.Verify(access, now)
	assert.ErrorIs(t, err, credential.ErrBadSignature)
}

func TestVerifyMalformed(t *testing.T) {
	c := credential.NewCodec([]byte("secret"), time.Minute, time.Hour)
	_, err := c.Verify("not-a-jwt", time.Now())
	assert.ErrorIs(t, err, credential.ErrMalformedBlob)
}
