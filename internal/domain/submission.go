package domain

import (
	"time"

	"github.com/govalues/decimal"
)

// ReceiptSubmission is one buyer-provided payment proof. Immutable once
// created; a human-triggered re-check is a new submission.
type ReceiptSubmission struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id,omitempty"`
	BuyerID     string    `json:"buyer_id"`
	ImageHash   string    `json:"image_hash"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Line is one recognized text line with the recognizer's confidence.
// LowConfidence lines are kept: parsing may still recover a field from a
// partially misread line.
type Line struct {
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// ExtractedText is the ordered recognizer output for one submission.
type ExtractedText struct {
	Lines []Line `json:"lines"`
}

// ParsedFields holds the payment facts recovered from extracted text.
// Absent fields stay absent; an amount is never invented.
type ParsedFields struct {
	Amount    decimal.Decimal `json:"amount"`
	HasAmount bool            `json:"has_amount"`
	Currency  string          `json:"currency,omitempty"`
	Date      *time.Time      `json:"date,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Recipient string          `json:"recipient,omitempty"`

	AmountConfidence    float64 `json:"amount_confidence,omitempty"`
	DateConfidence      float64 `json:"date_confidence,omitempty"`
	ReferenceConfidence float64 `json:"reference_confidence,omitempty"`
	RecipientConfidence float64 `json:"recipient_confidence,omitempty"`
}
