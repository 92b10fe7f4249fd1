package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lavka/receiptproof/internal/domain"
)

var errUnrecognizedDate = fmt.Errorf("unrecognized date")

// Date shapes seen on receipts: 02.03.2025, 02/03/2025, 02-03-2025,
// 2025-03-02, 02.03.25.
var dateRes = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{2}[./-]\d{2}[./-]\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{2}\.\d{2}\.\d{2}\b`),
}

var dateLayouts = []string{
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"02.01.06",
}

// collectDates gathers every date-shaped token. Anchored lines score full
// strength; a bare date elsewhere on the receipt still counts but weaker.
func (p *Parser) collectDates(text domain.ExtractedText) []candidate {
	anchors := anchorLines(text, p.cfg.DateAnchors)
	var out []candidate

	for i, line := range text.Lines {
		repaired := repairDigits(line.Text)
		lower := strings.ToLower(repaired)
		anchored := containsAny(lower, p.cfg.DateAnchors)

		for _, re := range dateRes {
			for _, m := range re.FindAllString(repaired, -1) {
				if _, err := parseDateText(m); err != nil {
					continue
				}
				strength := 0.8
				if anchored {
					strength = 1.0
				}
				out = append(out, candidate{
					text:       m,
					line:       i,
					score:      line.Confidence * strength,
					anchorDist: distanceTo(i, anchors),
				})
			}
		}
	}
	return out
}

func parseDateText(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errUnrecognizedDate, s)
}
