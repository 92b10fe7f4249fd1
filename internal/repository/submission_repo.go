package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lavka/receiptproof/internal/domain"
)

type SubmissionRepo struct {
	db *sql.DB
}

func NewSubmissionRepo(db *sql.DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

// Insert persists a submission record. Submissions are immutable; there is
// no update path.
func (r *SubmissionRepo) Insert(s *domain.ReceiptSubmission) error {
	_, err := r.db.Exec(
		`INSERT INTO submissions (id, order_id, buyer_id, image_hash, submitted_at)
		 VALUES (?,?,?,?,?)`,
		s.ID, s.OrderID, s.BuyerID, s.ImageHash, s.SubmittedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepo) GetByID(id string) (*domain.ReceiptSubmission, error) {
	var s domain.ReceiptSubmission
	var submittedAt string
	err := r.db.QueryRow(
		`SELECT id, order_id, buyer_id, image_hash, submitted_at FROM submissions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.OrderID, &s.BuyerID, &s.ImageHash, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if s.SubmittedAt, err = parseStoredTime(submittedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM submissions").Scan(&count)
	return count, err
}
