package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lavka/receiptproof/internal/domain"
)

// FingerprintRepo is the fingerprint ledger. Claims rely on the primary-key
// constraint so check-and-claim is a single atomic step relative to
// concurrent submissions.
type FingerprintRepo struct {
	db *sql.DB
}

func NewFingerprintRepo(db *sql.DB) *FingerprintRepo {
	return &FingerprintRepo{db: db}
}

// TryClaim attempts to claim a fingerprint for an order. Exactly one caller
// per fingerprint ever gets ClaimAccepted; everyone else learns who owns it.
func (r *FingerprintRepo) TryClaim(fingerprint, orderID string, now time.Time) (domain.ClaimStatus, *domain.FingerprintClaim, error) {
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO fingerprints (fingerprint, order_id, claimed_at) VALUES (?,?,?)`,
		fingerprint, orderID, now.Format(time.RFC3339),
	)
	if err != nil {
		return "", nil, fmt.Errorf("claim fingerprint: %w", err)
	}

	ra, err := res.RowsAffected()
	if err != nil {
		return "", nil, fmt.Errorf("rows affected: %w", err)
	}
	if ra == 1 {
		return domain.ClaimAccepted, &domain.FingerprintClaim{
			Fingerprint: fingerprint,
			OrderID:     orderID,
			ClaimedAt:   now,
		}, nil
	}

	claim, err := r.Get(fingerprint)
	if err != nil {
		return "", nil, err
	}
	if claim == nil {
		// Row vanished between insert and read; ledger rows are never
		// deleted, so this indicates corruption.
		return "", nil, fmt.Errorf("fingerprint %s: claim lost", fingerprint)
	}
	if claim.OrderID == orderID {
		return domain.ClaimOwnedBySelf, claim, nil
	}
	return domain.ClaimOwnedByOther, claim, nil
}

// RecordVerdict stores the terminal verdict of the claiming submission on
// the claim row so identical resubmissions can replay it.
func (r *FingerprintRepo) RecordVerdict(fingerprint, orderID string, outcome domain.VerdictOutcome, reason string) error {
	_, err := r.db.Exec(
		`UPDATE fingerprints SET outcome = ?, reason = ? WHERE fingerprint = ? AND order_id = ?`,
		string(outcome), reason, fingerprint, orderID,
	)
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

func (r *FingerprintRepo) Get(fingerprint string) (*domain.FingerprintClaim, error) {
	var c domain.FingerprintClaim
	var claimedAt, outcome string
	err := r.db.QueryRow(
		`SELECT fingerprint, order_id, claimed_at, outcome, reason FROM fingerprints WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&c.Fingerprint, &c.OrderID, &claimedAt, &outcome, &c.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}

	if c.ClaimedAt, err = parseStoredTime(claimedAt); err != nil {
		return nil, err
	}
	c.Outcome = domain.VerdictOutcome(outcome)
	return &c, nil
}
