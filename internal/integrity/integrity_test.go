package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchingFingerprintPasses(t *testing.T) {
	c := &Checker{}
	res := c.Validate("abc123", "abc123", false)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

func TestMismatchCarriesEvidence(t *testing.T) {
	c := &Checker{}
	res := c.Validate("deadbeef", "abc123", false)

	assert.False(t, res.Valid)
	assert.Equal(t, "fingerprint mismatch", res.Reason)
	assert.Equal(t, "abc123", res.Expected)
	assert.Equal(t, "deadbeef", res.Actual)
}

func TestEditModeSkipsComparison(t *testing.T) {
	c := &Checker{}
	res := c.Validate("deadbeef", "abc123", true)
	assert.True(t, res.Valid, "edit mode must skip the integrity comparison")
}

func TestMissingFingerprintDefaultPermissive(t *testing.T) {
	c := &Checker{}
	assert.True(t, c.Validate("", "abc123", false).Valid)
}

func TestMissingFingerprintFailClosed(t *testing.T) {
	c := &Checker{RequireFingerprint: true}
	res := c.Validate("", "abc123", false)

	assert.False(t, res.Valid)
	assert.Equal(t, "missing content fingerprint", res.Reason)
	assert.Equal(t, "abc123", res.Expected)
}
