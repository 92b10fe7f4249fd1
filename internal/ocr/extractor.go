package ocr

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/lavka/receiptproof/internal/domain"
)

// Extractor wraps a Recognizer with the retry/timeout policy for the
// pipeline: each attempt is bounded, transient failures are retried with
// exponential backoff, and lines below the confidence floor are flagged
// rather than discarded.
type Extractor struct {
	rec        Recognizer
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	floor      float64
}

// NewExtractor creates an extractor with configuration from the
// OCR_TIMEOUT_SECONDS, OCR_MAX_RETRIES and OCR_CONFIDENCE_FLOOR environment
// variables, defaulting to 4s, 2 retries and a 0.40 floor.
func NewExtractor(rec Recognizer) *Extractor {
	return &Extractor{
		rec:        rec,
		timeout:    envDuration("OCR_TIMEOUT_SECONDS", 4*time.Second),
		maxRetries: envInt("OCR_MAX_RETRIES", 2),
		backoff:    500 * time.Millisecond,
		floor:      envFloat("OCR_CONFIDENCE_FLOOR", 0.40),
	}
}

// Extract runs recognition with up to maxRetries retries. When every
// attempt fails it returns ErrExtractionFailed wrapping the last error; the
// submission is never silently dropped.
func (e *Extractor) Extract(ctx context.Context, image []byte) (domain.ExtractedText, error) {
	var lastErr error
	wait := e.backoff

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return domain.ExtractedText{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, ctx.Err())
			}
			wait *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		text, err := e.rec.Recognize(attemptCtx, image)
		cancel()
		if err == nil {
			return e.flagLowConfidence(text), nil
		}

		lastErr = err
		log.Printf("[ocr] attempt %d/%d failed: %v", attempt+1, e.maxRetries+1, err)
	}

	return domain.ExtractedText{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, lastErr)
}

func (e *Extractor) flagLowConfidence(text domain.ExtractedText) domain.ExtractedText {
	for i := range text.Lines {
		if text.Lines[i].Confidence < e.floor {
			text.Lines[i].LowConfidence = true
		}
	}
	return text
}

// --- env helpers ---

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}
