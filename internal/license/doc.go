// Package license implements the validation and tamper-response
// engine: the synchronous protocol every deployed client integration
// runs against the central authority on page load and heartbeat.
//
// A single validation call chains five defensive layers in a fixed,
// fail-fast order: IP reputation, per-source rate limiting, the
// explicit tamper signal, domain-lock verification and cryptographic
// integrity comparison, all feeding a monotonic lockdown state
// machine. Terminal states (TAMPERED, TERMINATED, ATTEMPTED_CLONING)
// are never left through this engine; recovery is an out-of-band
// administrative action.
package license
