package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	token := issuer.Issue("lic-42", at)
	require.NotEmpty(t, token)

	licenseID, issuedAt, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "lic-42", licenseID)
	assert.Equal(t, at, issuedAt)
}

func TestTokenForgedSignatureRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	other := NewTokenIssuer("different-secret")

	token := other.Issue("lic-42", time.Now())
	_, _, err := issuer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenForged)
}

func TestTokenMalformedRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret")

	for _, token := range []string{"", "not-base64!!", "bm90LWEtdG9rZW4"} {
		_, _, err := issuer.Verify(token)
		assert.Error(t, err, "token %q must be rejected", token)
	}
}

func TestTokenIsOpaque(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	token := issuer.Issue("lic-42", time.Now())
	assert.NotContains(t, token, "lic-42", "license ID must not appear in the clear")
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewNaClSigner("seed")
	require.NoError(t, err)

	payload, err := signer.Sign("lic-42", "example.com")
	require.NoError(t, err)

	msg, err := signer.Open(payload)
	require.NoError(t, err)
	assert.Contains(t, msg, "lic-42|example.com|")
}

func TestSignerDeterministicFromSeed(t *testing.T) {
	a, err := NewNaClSigner("seed")
	require.NoError(t, err)
	b, err := NewNaClSigner("seed")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey(), "same seed must derive the same keypair")

	c, err := NewNaClSigner("other-seed")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), c.PublicKey())
}

func TestSignerRejectsTamperedPayload(t *testing.T) {
	signer, err := NewNaClSigner("seed")
	require.NoError(t, err)

	payload, err := signer.Sign("lic-42", "example.com")
	require.NoError(t, err)

	corrupted := "A" + payload[1:]
	if corrupted == payload {
		corrupted = "B" + payload[1:]
	}
	_, err = signer.Open(corrupted)
	assert.Error(t, err)
}
