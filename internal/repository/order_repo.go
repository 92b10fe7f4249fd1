package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/domain"
)

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Insert(o *domain.PendingOrder) error {
	_, err := r.db.Exec(
		`INSERT INTO orders
		(id, buyer_id, amount, currency, reference, recipient, status, created_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.BuyerID, o.Amount.String(), o.Currency, o.Reference, o.Recipient,
		string(o.Status), o.CreatedAt.Format(time.RFC3339), o.ExpiresAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) BulkInsert(orders []domain.PendingOrder) (int, error) {
	inserted := 0
	sqlTx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.Prepare(
		`INSERT OR IGNORE INTO orders
		(id, buyer_id, amount, currency, reference, recipient, status, created_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range orders {
		o := &orders[i]
		res, err := stmt.Exec(
			o.ID, o.BuyerID, o.Amount.String(), o.Currency, o.Reference, o.Recipient,
			string(o.Status), o.CreatedAt.Format(time.RFC3339), o.ExpiresAt.Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (r *OrderRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count)
	return count, err
}

func (r *OrderRepo) GetByID(id string) (*domain.PendingOrder, error) {
	row := r.db.QueryRow(
		`SELECT id, buyer_id, amount, currency, reference, recipient, status, created_at, expires_at
		 FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListAwaitingPayment returns the current AwaitingPayment snapshot, scoped
// to one buyer when buyerID is non-empty.
func (r *OrderRepo) ListAwaitingPayment(buyerID string) ([]domain.PendingOrder, error) {
	query := `SELECT id, buyer_id, amount, currency, reference, recipient, status, created_at, expires_at
		FROM orders WHERE status = ?`
	args := []any{string(domain.StatusAwaitingPayment)}
	if buyerID != "" {
		query += " AND buyer_id = ?"
		args = append(args, buyerID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

type OrderFilter struct {
	Status  string
	BuyerID string
	Page    int
	Limit   int
}

func (r *OrderRepo) List(f OrderFilter) ([]domain.PendingOrder, int, error) {
	where := ""
	var args []any
	var conds []string
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.BuyerID != "" {
		conds = append(conds, "buyer_id = ?")
		args = append(args, f.BuyerID)
	}
	for i, c := range conds {
		if i == 0 {
			where = " WHERE " + c
		} else {
			where += " AND " + c
		}
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := `SELECT id, buyer_id, amount, currency, reference, recipient, status, created_at, expires_at
		FROM orders` + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// TryTransition atomically moves an order from one status to another.
// Returns false when the precondition no longer holds, which is how racing
// submissions lose deterministically.
func (r *OrderRepo) TryTransition(id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition %s %s->%s: %w", id, from, to, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra == 1, nil
}

// ExpireOverdue moves every overdue AwaitingPayment order to Expired and
// returns how many were affected.
func (r *OrderRepo) ExpireOverdue(now time.Time) (int, error) {
	res, err := r.db.Exec(
		`UPDATE orders SET status = ? WHERE status = ? AND expires_at <= ?`,
		string(domain.StatusExpired), string(domain.StatusAwaitingPayment),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue: %w", err)
	}
	ra, _ := res.RowsAffected()
	return int(ra), nil
}

func (r *OrderRepo) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.PendingOrder, error) {
	var o domain.PendingOrder
	var amount, status, createdAt, expiresAt string
	err := row.Scan(&o.ID, &o.BuyerID, &amount, &o.Currency, &o.Reference,
		&o.Recipient, &status, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if o.Amount, err = decimal.Parse(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if o.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if o.ExpiresAt, err = parseStoredTime(expiresAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]domain.PendingOrder, error) {
	var out []domain.PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
