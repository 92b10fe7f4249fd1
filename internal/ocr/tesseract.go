package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/lavka/receiptproof/internal/domain"
)

// TesseractRecognizer recognizes text with a local Tesseract installation.
// A fresh client is created per call: gosseract clients are not safe for
// concurrent use.
type TesseractRecognizer struct {
	languages []string
}

// NewTesseract returns a recognizer for the given languages, defaulting to
// Russian plus English (bank receipts mix both).
func NewTesseract(languages ...string) *TesseractRecognizer {
	if len(languages) == 0 {
		languages = []string{"rus", "eng"}
	}
	return &TesseractRecognizer{languages: languages}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, image []byte) (domain.ExtractedText, error) {
	type result struct {
		text domain.ExtractedText
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		text, err := t.recognize(image)
		ch <- result{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return domain.ExtractedText{}, ctx.Err()
	}
}

func (t *TesseractRecognizer) recognize(image []byte) (domain.ExtractedText, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return domain.ExtractedText{}, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return domain.ExtractedText{}, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("recognize: %w", err)
	}

	var text domain.ExtractedText
	for _, box := range boxes {
		line := strings.TrimSpace(box.Word)
		if line == "" {
			continue
		}
		text.Lines = append(text.Lines, domain.Line{
			Text:       line,
			Confidence: box.Confidence / 100.0,
		})
	}
	return text, nil
}
