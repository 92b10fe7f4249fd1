package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/domain"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(e *domain.AuditEntry) error {
	amount := ""
	if e.Fields.HasAmount {
		amount = e.Fields.Amount.String()
	}
	var paymentDate any
	if e.Fields.Date != nil {
		paymentDate = e.Fields.Date.Format(time.RFC3339)
	}

	_, err := r.db.Exec(
		`INSERT INTO audit_entries
		(id, submission_id, order_id, buyer_id, fingerprint, outcome, reason,
		 amount, currency, payment_date, reference, recipient, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.SubmissionID, e.OrderID, e.BuyerID, e.Fingerprint,
		string(e.Outcome), e.Reason, amount, e.Fields.Currency, paymentDate,
		e.Fields.Reference, e.Fields.Recipient, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

type AuditFilter struct {
	OrderID string
	Outcome string
	Page    int
	Limit   int
}

func (r *AuditRepo) List(f AuditFilter) ([]domain.AuditEntry, int, error) {
	where := ""
	var args []any
	if f.OrderID != "" {
		where = " WHERE order_id = ?"
		args = append(args, f.OrderID)
	}
	if f.Outcome != "" {
		if where == "" {
			where = " WHERE outcome = ?"
		} else {
			where += " AND outcome = ?"
		}
		args = append(args, f.Outcome)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := `SELECT id, submission_id, order_id, buyer_id, fingerprint, outcome, reason,
		amount, currency, payment_date, reference, recipient, created_at
		FROM audit_entries` + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (r *AuditRepo) CountByOutcome() (map[string]int, error) {
	rows, err := r.db.Query("SELECT outcome, COUNT(*) FROM audit_entries GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	var outcome, amount, createdAt string
	var paymentDate sql.NullString
	err := rows.Scan(&e.ID, &e.SubmissionID, &e.OrderID, &e.BuyerID,
		&e.Fingerprint, &outcome, &e.Reason, &amount, &e.Fields.Currency,
		&paymentDate, &e.Fields.Reference, &e.Fields.Recipient, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	e.Outcome = domain.VerdictOutcome(outcome)
	if amount != "" {
		if e.Fields.Amount, err = decimal.Parse(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		e.Fields.HasAmount = true
	}
	if paymentDate.Valid && paymentDate.String != "" {
		t, err := parseStoredTime(paymentDate.String)
		if err != nil {
			return nil, err
		}
		e.Fields.Date = &t
	}
	if e.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
