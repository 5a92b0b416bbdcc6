// Package domaincheck implements the domain-lock rule: a license is
// only valid when invoked from its authorized domain, or from its
// staging domain while the edit window is open.
package domaincheck

import (
	"strings"
	"time"
)

// Normalize strips a leading protocol scheme and any trailing slash.
// Case is preserved and no www. folding is performed, so
// "www.example.com" and "example.com" remain distinct hosts.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(url string) string {
	d := strings.TrimSpace(url)
	if idx := strings.Index(d, "://"); idx != -1 {
		d = d[idx+3:]
	}
	return strings.TrimRight(d, "/")
}

// Validate compares the request origin against the authorized domain,
// honoring the time-boxed staging exception.
func Validate(requestDomain, authorizedDomain, stagingDomain string, editModeExpiry time.Time, now time.Time) bool {
	req := Normalize(requestDomain)
	if req == "" {
		return false
	}
	if req == Normalize(authorizedDomain) {
		return true
	}
	if stagingDomain != "" && req == Normalize(stagingDomain) && now.Before(editModeExpiry) {
		return true
	}
	return false
}
