package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestManager() (*Manager, *time.Time) {
	now := testNow
	mgr := NewManager(NewMemoryStore()).WithClock(func() time.Time { return now })
	return mgr, &now
}

func TestGenerateToken(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	raw, tok, err := mgr.GenerateToken(ctx, 7)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, TokenPrefix))
	assert.Len(t, raw, len(TokenPrefix)+2*tokenBytes)
	assert.Equal(t, int64(7), tok.UserID)
	assert.Equal(t, HashToken(raw), tok.Hash)
	assert.Equal(t, raw[:displayPrefix], tok.Prefix)
	assert.Equal(t, testNow.Add(DefaultTokenTTL), tok.ExpiresAt)
	assert.NotContains(t, tok.Hash, raw)
}

func TestValidateToken(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	raw, _, err := mgr.GenerateToken(ctx, 3)
	require.NoError(t, err)

	tok, err := mgr.ValidateToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tok.UserID)
	require.NotNil(t, tok.LastUsed)
	assert.Equal(t, testNow, *tok.LastUsed)

	_, err = mgr.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = mgr.ValidateToken(ctx, "not_a_token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = mgr.ValidateToken(ctx, TokenPrefix+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	mgr, now := newTestManager()
	mgr.WithTTL(time.Hour)
	ctx := context.Background()

	raw, _, err := mgr.GenerateToken(ctx, 1)
	require.NoError(t, err)

	*now = testNow.Add(59 * time.Minute)
	_, err = mgr.ValidateToken(ctx, raw)
	assert.NoError(t, err)

	*now = testNow.Add(time.Hour)
	_, err = mgr.ValidateToken(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateToken_ReplacesPrevious(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	first, _, err := mgr.GenerateToken(ctx, 5)
	require.NoError(t, err)
	second, _, err := mgr.GenerateToken(ctx, 5)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = mgr.ValidateToken(ctx, first)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tok, err := mgr.ValidateToken(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tok.UserID)
}

func TestTokensAreIsolatedPerUser(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	rawA, _, _ := mgr.GenerateToken(ctx, 1)
	_, _, _ = mgr.GenerateToken(ctx, 2)

	tok, err := mgr.ValidateToken(ctx, rawA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tok.UserID)
}

func TestCurrentAndRevoke(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	_, err := mgr.Current(ctx, 9)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	raw, _, _ := mgr.GenerateToken(ctx, 9)
	cur, err := mgr.Current(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, raw[:displayPrefix], cur.Prefix)

	require.NoError(t, mgr.Revoke(ctx, 9))
	_, err = mgr.ValidateToken(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWithTTL_IgnoresNonPositive(t *testing.T) {
	mgr := NewManager(NewMemoryStore()).WithTTL(0)
	assert.Equal(t, DefaultTokenTTL, mgr.TTL())
}

func TestHashToken_Deterministic(t *testing.T) {
	assert.Equal(t, HashToken("tly_abc"), HashToken("tly_abc"))
	assert.NotEqual(t, HashToken("tly_abc"), HashToken("tly_abd"))
	assert.Len(t, HashToken("x"), 64)
}
