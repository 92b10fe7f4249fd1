package domain

import "time"

type VerdictOutcome string

const (
	VerdictVerified    VerdictOutcome = "VERIFIED"
	VerdictRejected    VerdictOutcome = "REJECTED"
	VerdictNeedsReview VerdictOutcome = "NEEDS_REVIEW"
)

// Verdict reasons. Every non-verified verdict carries one.
const (
	ReasonInvalidImage     = "invalid_image"
	ReasonOCRUnavailable   = "ocr_unavailable"
	ReasonUnmatched        = "unmatched"
	ReasonNoMatchingOrder  = "no_matching_order"
	ReasonAmbiguousMatch   = "ambiguous_match"
	ReasonCurrencyMismatch = "currency_mismatch"
	ReasonDuplicateReceipt = "duplicate_receipt"
	ReasonAlreadyConfirmed = "already_confirmed"
	ReasonOrderExpired     = "order_expired"
)

// VerificationVerdict is the pipeline's terminal decision for one submission.
type VerificationVerdict struct {
	SubmissionID string         `json:"submission_id"`
	Outcome      VerdictOutcome `json:"outcome"`
	Reason       string         `json:"reason,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	Fields       ParsedFields   `json:"fields"`
	DecidedAt    time.Time      `json:"decided_at"`
}

// AuditEntry is the immutable record produced for every verdict.
type AuditEntry struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	OrderID      string         `json:"order_id,omitempty"`
	BuyerID      string         `json:"buyer_id"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	Outcome      VerdictOutcome `json:"outcome"`
	Reason       string         `json:"reason,omitempty"`
	Fields       ParsedFields   `json:"fields"`
	CreatedAt    time.Time      `json:"created_at"`
}
