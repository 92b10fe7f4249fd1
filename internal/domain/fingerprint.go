package domain

import "time"

// ClaimStatus is the outcome of an atomic fingerprint claim attempt.
type ClaimStatus string

const (
	ClaimAccepted     ClaimStatus = "CLAIMED"
	ClaimOwnedBySelf  ClaimStatus = "ALREADY_CLAIMED_BY_SELF"
	ClaimOwnedByOther ClaimStatus = "ALREADY_CLAIMED_BY_OTHER"
)

// FingerprintClaim records which order first claimed a proof fingerprint.
// A fingerprint maps to at most one confirmed order, ever. The final verdict
// of the claiming submission is recorded on the claim so identical
// resubmissions replay it without reprocessing.
type FingerprintClaim struct {
	Fingerprint string         `json:"fingerprint"`
	OrderID     string         `json:"order_id"`
	ClaimedAt   time.Time      `json:"claimed_at"`
	Outcome     VerdictOutcome `json:"outcome,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}
