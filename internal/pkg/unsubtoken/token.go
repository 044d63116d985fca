// Package unsubtoken encodes and verifies the opaque token carried by
// unsubscribe links.
//
// A token is the URL-safe base64 of "{campaignID}:{email}:{unixMillis}",
// a dot, and a truncated HMAC-SHA256 of that payload. Decoding verifies the
// signature before looking at the payload, so a forged token never yields
// claims.
package unsubtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed        = errors.New("malformed unsubscribe token")
	ErrInvalidSignature = errors.New("invalid unsubscribe token signature")
	ErrExpired          = errors.New("unsubscribe token expired")
)

const sigLen = 32 // hex chars kept from the HMAC

// Claims is the decoded payload of a token.
type Claims struct {
	CampaignID string
	Email      string
	IssuedAt   time.Time
}

// Codec signs and verifies tokens with a shared key.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCodec returns a codec. A ttl of zero disables expiry.
func NewCodec(signingKey string, ttl time.Duration) (*Codec, error) {
	if signingKey == "" {
		return nil, errors.New("unsubscribe signing key is required")
	}
	return &Codec{key: []byte(signingKey), ttl: ttl, now: time.Now}, nil
}

// Encode builds the token for one recipient of one campaign.
func (c *Codec) Encode(campaignID, email string, issuedAt time.Time) string {
	payload := fmt.Sprintf("%s:%s:%d", campaignID, email, issuedAt.UnixMilli())
	data := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return data + "." + c.sign(data)
}

// Decode verifies and parses a token.
func (c *Codec) Decode(token string) (Claims, error) {
	data, sig, ok := strings.Cut(token, ".")
	if !ok || data == "" || sig == "" {
		return Claims{}, ErrMalformed
	}
	if !hmac.Equal([]byte(c.sign(data)), []byte(sig)) {
		return Claims{}, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload := string(raw)

	// Campaign ids never contain ':' and the timestamp is always last, so
	// an email with ':' in its local part still parses.
	first := strings.Index(payload, ":")
	last := strings.LastIndex(payload, ":")
	if first < 0 || last <= first {
		return Claims{}, ErrMalformed
	}
	ms, err := strconv.ParseInt(payload[last+1:], 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	claims := Claims{
		CampaignID: payload[:first],
		Email:      payload[first+1 : last],
		IssuedAt:   time.UnixMilli(ms),
	}
	if claims.CampaignID == "" || claims.Email == "" {
		return Claims{}, ErrMalformed
	}
	if c.ttl > 0 && c.now().Sub(claims.IssuedAt) > c.ttl {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func (c *Codec) sign(data string) string {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:sigLen]
}
