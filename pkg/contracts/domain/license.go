package domain

import (
	"time"
)

// LicenseStatus is the lifecycle state of a license. TAMPERED, TERMINATED
// and ATTEMPTED_CLONING are terminal for the validation engine: only an
// out-of-band administrative restore moves a license out of them.
type LicenseStatus string

const (
	StatusActive            LicenseStatus = "ACTIVE"
	StatusSuspended         LicenseStatus = "SUSPENDED"
	StatusTampered          LicenseStatus = "TAMPERED"
	StatusTerminated        LicenseStatus = "TERMINATED"
	StatusAttemptedCloning  LicenseStatus = "ATTEMPTED_CLONING"
)

// IsTerminal reports whether the engine may never transition out of s.
func (s LicenseStatus) IsTerminal() bool {
	switch s {
	case StatusTampered, StatusTerminated, StatusAttemptedCloning:
		return true
	}
	return false
}

// License is the authoritative security record binding a key to a domain
// and a validity window.
type License struct {
	ID             string        `json:"id"`
	LicenseKey     string        `json:"license_key" validate:"required"`
	Domain         string        `json:"domain" validate:"required,min=3"`
	StagingDomain  string        `json:"staging_domain,omitempty"`
	Status         LicenseStatus `json:"status"`
	ValidFrom      time.Time     `json:"valid_from"`
	ExpiresAt      time.Time     `json:"expires_at"`
	EditMode       bool          `json:"edit_mode"`
	EditModeExpiry time.Time     `json:"edit_mode_expiry,omitempty"`
	CleanSnapshot  string        `json:"clean_snapshot,omitempty"`
	ClientEmail    string        `json:"client_email,omitempty" validate:"omitempty,email"`
	LastChecked    time.Time     `json:"last_checked,omitempty"`
	LastUsedAt     time.Time     `json:"last_used_at,omitempty"`
}

// EditModeActive reports whether edit mode is currently in effect.
// EditModeExpiry is only meaningful while EditMode is set.
func (l *License) EditModeActive(now time.Time) bool {
	return l.EditMode && now.Before(l.EditModeExpiry)
}

// Client owns one or more licenses. TamperCount is the client-level kill
// switch: at or above the kill threshold every license of the client is
// treated as TERMINATED regardless of the stored license status.
type Client struct {
	Email       string    `json:"email" validate:"required,email"`
	TamperCount int       `json:"tamper_count"`
	Domain      string    `json:"domain,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// TamperEvent is one immutable evidentiary record of an integrity or
// cloning violation. Created on detection, never mutated or deleted.
type TamperEvent struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"license_id"`
	IPAddress   string    `json:"ip_address"`
	Severity    string    `json:"severity"`
	OldHash     string    `json:"old_hash,omitempty"`
	NewHash     string    `json:"new_hash,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Tamper event severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// IPReputation tracks abuse originating from a single address,
// independent of any license.
type IPReputation struct {
	IPAddress string    `json:"ip_address"`
	IsBlocked bool      `json:"is_blocked"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int64     `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Activity is one append-only audit trail entry, distinct from the
// tamper event table.
type Activity struct {
	Subject  string `json:"subject"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
	Message  string `json:"message"`
}
