package domain

import "errors"

var (
	ErrInvalidImage        = errors.New("invalid image")
	ErrExtractionFailed    = errors.New("text extraction failed")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotUnderReview      = errors.New("order not under review")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("invalid amount")
)
