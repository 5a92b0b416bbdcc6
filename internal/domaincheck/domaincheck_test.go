package domaincheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"https scheme", "https://example.com", "example.com"},
		{"http scheme", "http://example.com", "example.com"},
		{"trailing slash", "example.com/", "example.com"},
		{"scheme and slash", "https://example.com/", "example.com"},
		{"bare domain", "example.com", "example.com"},
		{"case preserved", "https://Example.COM", "Example.COM"},
		{"www not folded", "https://www.example.com", "www.example.com"},
		{"empty", "", ""},
		{"multiple trailing slashes", "example.com//", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com/",
		"example.com",
		"http://www.Example.com//",
		"",
		"staging.example.com",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize must be idempotent for %q", in)
	}
}

func TestValidateAuthorizedDomain(t *testing.T) {
	now := time.Now()
	for _, d := range []string{"example.com", "https://shop.example.org/", "Sub.Example.net"} {
		assert.True(t, Validate(d, d, "", time.Time{}, now), "identical domain %q must validate", d)
	}
}

func TestValidateStagingWindow(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, Validate("staging.example.com", "example.com", "staging.example.com", future, now))
	assert.False(t, Validate("staging.example.com", "example.com", "staging.example.com", past, now),
		"staging exception must close with the edit window")
	assert.False(t, Validate("staging.example.com", "example.com", "", future, now),
		"no staging domain configured means no exception")
}

func TestValidateRejectsMismatch(t *testing.T) {
	now := time.Now()
	assert.False(t, Validate("https://evil.example", "example.com", "staging.example.com", now.Add(time.Hour), now))
	assert.False(t, Validate("www.example.com", "example.com", "", time.Time{}, now),
		"www variant is a distinct host")
	assert.False(t, Validate("", "example.com", "", time.Time{}, now))
}
