package license

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Heartbeat token errors.
var (
	ErrTokenMalformed = errors.New("heartbeat token malformed")
	ErrTokenForged    = errors.New("heartbeat token signature mismatch")
)

// TokenIssuer mints and verifies heartbeat tokens. A token encodes the
// license ID and issue time and is HMAC-signed with a server-side
// secret so callers cannot forge one.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer from the configured secret. An empty
// secret gets a random one, which only suits single-instance dev runs:
// tokens then die with the process.
func NewTokenIssuer(secret string) *TokenIssuer {
	if secret == "" {
		buf := make([]byte, 32)
		rand.Read(buf)
		return &TokenIssuer{secret: buf}
	}
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue mints an opaque heartbeat token for licenseID at the given time.
func (t *TokenIssuer) Issue(licenseID string, at time.Time) string {
	payload := licenseID + ":" + strconv.FormatInt(at.UTC().Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + t.mac(payload)))
}

// Verify checks the token signature and returns the encoded license ID
// and issue time.
func (t *TokenIssuer) Verify(token string) (string, time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return "", time.Time{}, ErrTokenMalformed
	}
	licenseID, tsRaw, mac := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(mac), []byte(t.mac(licenseID+":"+tsRaw))) {
		return "", time.Time{}, ErrTokenForged
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrTokenMalformed
	}
	return licenseID, time.Unix(ts, 0).UTC(), nil
}

func (t *TokenIssuer) mac(payload string) string {
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
