package fraud

import (
	"log"
	"strings"
	"time"

	"github.com/lavka/receiptproof/internal/domain"
)

// Ledger is the fingerprint store contract. TryClaim must be atomic: a
// check-then-set sequence would let two orders confirm on one proof.
type Ledger interface {
	TryClaim(fingerprint, orderID string, now time.Time) (domain.ClaimStatus, *domain.FingerprintClaim, error)
	RecordVerdict(fingerprint, orderID string, outcome domain.VerdictOutcome, reason string) error
	Get(fingerprint string) (*domain.FingerprintClaim, error)
}

// Guard prevents the same payment proof from confirming more than one
// order.
type Guard struct {
	ledger Ledger
}

func NewGuard(ledger Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// Fingerprint derives the reuse key for a submission: the parsed
// transaction reference when present, else the normalized image content
// hash. Prefixes keep the two keyspaces from colliding.
func Fingerprint(fields domain.ParsedFields, imageHash string) string {
	if ref := strings.ToUpper(strings.TrimSpace(fields.Reference)); ref != "" {
		return "ref:" + ref
	}
	return "img:" + imageHash
}

// Claim performs the atomic check-and-claim for the matched order. A claim
// held by a different order is logged for audit before being reported.
func (g *Guard) Claim(fingerprint, orderID string, now time.Time) (domain.ClaimStatus, *domain.FingerprintClaim, error) {
	status, claim, err := g.ledger.TryClaim(fingerprint, orderID, now)
	if err != nil {
		return "", nil, err
	}
	if status == domain.ClaimOwnedByOther {
		log.Printf("[fraud] fingerprint %s reused: held by order %s, attempted by order %s",
			fingerprint, claim.OrderID, orderID)
	}
	return status, claim, nil
}

// Finalize records the claiming submission's terminal verdict on the claim
// so identical resubmissions replay it without reprocessing.
func (g *Guard) Finalize(fingerprint, orderID string, outcome domain.VerdictOutcome, reason string) error {
	return g.ledger.RecordVerdict(fingerprint, orderID, outcome, reason)
}

// Recall returns the existing claim for a fingerprint without claiming it,
// or nil when the proof has never been seen.
func (g *Guard) Recall(fingerprint string) (*domain.FingerprintClaim, error) {
	return g.ledger.Get(fingerprint)
}
