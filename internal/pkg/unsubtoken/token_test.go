package unsubtoken

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T, ttl time.Duration) *Codec {
	t.Helper()
	c, err := NewCodec("test-signing-key", ttl)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newCodec(t, 0)
	cases := []struct {
		campaignID, email string
	}{
		{"3f6b1c2e-0000-4000-8000-000000000001", "john.doe@example.com"},
		{"c1", "a+tag@sub.example.org"},
		{"c2", "weird:local@example.com"},
	}
	for _, tc := range cases {
		ts := time.UnixMilli(1760600000123)
		claims, err := c.Decode(c.Encode(tc.campaignID, tc.email, ts))
		require.NoError(t, err, tc.email)
		assert.Equal(t, tc.campaignID, claims.CampaignID)
		assert.Equal(t, tc.email, claims.Email)
		assert.True(t, ts.Equal(claims.IssuedAt))
	}
}

func TestTokenIsURLSafe(t *testing.T) {
	tok := newCodec(t, 0).Encode("c1", "john+x@example.com", time.Now())
	assert.NotContains(t, tok, "/")
	assert.NotContains(t, tok, "+")
	assert.NotContains(t, tok, "=")
}

func TestDecode_RejectsTampering(t *testing.T) {
	c := newCodec(t, 0)
	tok := c.Encode("c1", "a@example.com", time.Now())
	data, sig, _ := strings.Cut(tok, ".")

	other := c.Encode("c2", "a@example.com", time.Now())
	otherData, _, _ := strings.Cut(other, ".")

	_, err := c.Decode(otherData + "." + sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = c.Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)

	foreign, err := NewCodec("another-key", 0)
	require.NoError(t, err)
	_, err = foreign.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecode_Expiry(t *testing.T) {
	c := newCodec(t, time.Hour)
	issued := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	tok := c.Encode("c1", "a@example.com", issued)

	c.now = func() time.Time { return issued.Add(30 * time.Minute) }
	_, err := c.Decode(tok)
	assert.NoError(t, err)

	c.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = c.Decode(tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestNewCodec_RequiresKey(t *testing.T) {
	_, err := NewCodec("", 0)
	assert.Error(t, err)
}
