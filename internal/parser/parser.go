package parser

import (
	"strings"

	"github.com/lavka/receiptproof/internal/domain"
)

// Config holds the localized anchor keywords used to rank field candidates.
// Anchors are matched case-insensitively as substrings of a recognized line.
type Config struct {
	AmountAnchors    []string
	DateAnchors      []string
	ReferenceAnchors []string
	RecipientAnchors []string
}

// DefaultConfig returns the Russian + English anchor set tuned for bank
// transfer receipts.
func DefaultConfig() Config {
	return Config{
		AmountAnchors: []string{
			"сумма", "итого", "оплата", "оплачено", "перевод", "зачислено",
			"amount", "total", "paid", "sum",
		},
		DateAnchors: []string{"дата", "date"},
		ReferenceAnchors: []string{
			"операци", "квитанц", "чек", "номер", "документ",
			"transaction", "reference",
		},
		RecipientAnchors: []string{
			"получател", "ип ", "recipient", "beneficiary",
		},
	}
}

// Parser heuristically extracts payment facts from noisy recognized text.
// It is a pure transform over ExtractedText: no storage, no side effects.
type Parser struct {
	cfg Config
}

func New(cfg Config) *Parser {
	return &Parser{cfg: cfg}
}

// candidate is one plausible value for a field. Score is line confidence
// multiplied by pattern-match strength; anchorDist breaks score ties in
// favor of candidates positionally closest to a keyword anchor.
type candidate struct {
	text       string
	line       int
	score      float64
	anchorDist int
}

// Parse scans every line and collects all plausible candidates per field
// before selecting, so a strong late candidate beats a weak early one.
func (p *Parser) Parse(text domain.ExtractedText) domain.ParsedFields {
	var fields domain.ParsedFields

	amounts := p.collectAmounts(text)
	if best, ok := selectBest(amounts); ok {
		if amt, cur, err := parseAmountText(best.text); err == nil {
			fields.Amount = amt
			fields.HasAmount = true
			fields.Currency = cur
			fields.AmountConfidence = best.score
		}
	}

	if best, ok := selectBest(p.collectDates(text)); ok {
		if d, err := parseDateText(best.text); err == nil {
			fields.Date = &d
			fields.DateConfidence = best.score
		}
	}

	if best, ok := selectBest(p.collectReferences(text)); ok {
		fields.Reference = best.text
		fields.ReferenceConfidence = best.score
	}

	if best, ok := selectBest(p.collectRecipients(text)); ok {
		fields.Recipient = best.text
		fields.RecipientConfidence = best.score
	}

	return fields
}

// selectBest picks the highest-scoring candidate; near-equal scores fall
// back to anchor proximity, then to the earliest line.
func selectBest(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.score > best.score+0.001:
			best = c
		case c.score > best.score-0.001 && c.anchorDist < best.anchorDist:
			best = c
		}
	}
	return best, true
}

func containsAny(lower string, anchors []string) bool {
	for _, a := range anchors {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

// anchorLines returns the indexes of lines containing any of the anchors.
func anchorLines(text domain.ExtractedText, anchors []string) []int {
	var out []int
	for i, line := range text.Lines {
		if containsAny(strings.ToLower(line.Text), anchors) {
			out = append(out, i)
		}
	}
	return out
}

// distanceTo returns the distance in lines from idx to the nearest anchor
// line, or a large constant when no anchor exists at all.
func distanceTo(idx int, anchors []int) int {
	if len(anchors) == 0 {
		return 1000
	}
	best := 1000
	for _, a := range anchors {
		d := idx - a
		if d < 0 {
			d = -d
		}
		if d < best {
			best = d
		}
	}
	return best
}
