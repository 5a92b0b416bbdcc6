// Package integrity compares a submitted content fingerprint against
// the stored clean snapshot, honoring the edit-mode exception.
package integrity

// Result holds the outcome of an integrity comparison. Expected and
// Actual are carried for the evidentiary tamper record.
type Result struct {
	Valid    bool
	Reason   string
	Expected string
	Actual   string
}

// Checker validates submitted fingerprints against a reference hash.
type Checker struct {
	// RequireFingerprint makes an absent submitted fingerprint fail
	// closed instead of passing.
	RequireFingerprint bool
}

// Validate compares submittedFingerprint to cleanSnapshot. Edit mode
// skips the comparison entirely: it is the deliberate, time-boxed
// relaxation that permits legitimate developer changes.
func (c *Checker) Validate(submittedFingerprint, cleanSnapshot string, editModeEnabled bool) Result {
	if editModeEnabled {
		return Result{Valid: true}
	}

	if submittedFingerprint == "" {
		if c.RequireFingerprint {
			return Result{
				Valid:    false,
				Reason:   "missing content fingerprint",
				Expected: cleanSnapshot,
			}
		}
		return Result{Valid: true}
	}

	if submittedFingerprint != cleanSnapshot {
		return Result{
			Valid:    false,
			Reason:   "fingerprint mismatch",
			Expected: cleanSnapshot,
			Actual:   submittedFingerprint,
		}
	}

	return Result{Valid: true}
}
