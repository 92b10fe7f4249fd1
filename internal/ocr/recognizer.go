package ocr

import (
	"context"

	"github.com/lavka/receiptproof/internal/domain"
)

// Recognizer is the external text-recognition capability. Implementations
// return recognized lines with per-line confidence in [0,1]. The engine
// treats recognition as a black box so tests can script deterministic
// text/confidence pairs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (domain.ExtractedText, error)
}
