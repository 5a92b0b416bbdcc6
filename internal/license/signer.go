package license

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/sign"
)

// Signer produces the opaque signed bootstrap payload returned on a
// successful validation.
type Signer interface {
	Sign(licenseID, domain string) (string, error)
}

// NaClSigner signs bootstrap payloads with a NaCl signing keypair.
type NaClSigner struct {
	publicKey  *[32]byte
	privateKey *[64]byte
	now        func() time.Time
}

// NewNaClSigner builds a signer. A non-empty seed derives a
// deterministic keypair so every instance of a deployment signs with
// the same key; an empty seed generates an ephemeral one for dev runs.
func NewNaClSigner(seed string) (*NaClSigner, error) {
	var reader = rand.Reader
	if seed != "" {
		digest := sha512.Sum512([]byte(seed))
		reader = bytes.NewReader(digest[:])
	}
	pub, priv, err := sign.GenerateKey(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keypair: %w", err)
	}
	return &NaClSigner{publicKey: pub, privateKey: priv, now: time.Now}, nil
}

// Sign produces the opaque payload: a NaCl-signed message binding the
// license ID, its domain and the issue time.
func (s *NaClSigner) Sign(licenseID, domain string) (string, error) {
	msg := fmt.Sprintf("%s|%s|%d", licenseID, domain, s.now().UTC().Unix())
	signed := sign.Sign(nil, []byte(msg), s.privateKey)
	return base64.RawStdEncoding.EncodeToString(signed), nil
}

// Open verifies a payload produced by Sign and returns the embedded
// message. Used by clients holding the public key, and by tests.
func (s *NaClSigner) Open(payload string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("payload decode failed: %w", err)
	}
	msg, ok := sign.Open(nil, raw, s.publicKey)
	if !ok {
		return "", errors.New("payload signature invalid")
	}
	return string(msg), nil
}

// PublicKey returns the verification key for distribution to clients.
func (s *NaClSigner) PublicKey() [32]byte {
	return *s.publicKey
}
