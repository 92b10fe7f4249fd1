package domain

import (
	"time"

	"github.com/govalues/decimal"
)

type OrderStatus string

const (
	StatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	StatusUnderReview     OrderStatus = "UNDER_REVIEW"
	StatusConfirmed       OrderStatus = "CONFIRMED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// PendingOrder is an order waiting for an off-platform payment to be proven.
// Reference and Recipient are optional: when the buyer was given a payment
// reference or the merchant requisites are known, matching uses them.
type PendingOrder struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Awaiting reports whether the order can still accept a payment proof.
func (o *PendingOrder) Awaiting() bool {
	return o.Status == StatusAwaitingPayment
}

// ExpiredAt reports whether the order's validity window has passed at t.
func (o *PendingOrder) ExpiredAt(t time.Time) bool {
	return !o.ExpiresAt.After(t)
}
