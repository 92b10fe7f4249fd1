package parser

import (
	"regexp"
	"strings"

	"github.com/lavka/receiptproof/internal/domain"
)

// Transaction id shapes: a long alphanumeric token containing at least one
// digit, or digit groups joined by separators ("1234-567-890").
var (
	alnumRefRe  = regexp.MustCompile(`\b[A-Za-z0-9]{8,24}\b`)
	digitsRefRe = regexp.MustCompile(`\b\d{4,}(?:[- ]\d{3,})+\b`)
)

// collectReferences gathers transaction/reference id candidates. Lines are
// scanned raw: digit repair would corrupt legitimate letters in a mixed id.
func (p *Parser) collectReferences(text domain.ExtractedText) []candidate {
	anchors := anchorLines(text, p.cfg.ReferenceAnchors)
	var out []candidate

	for i, line := range text.Lines {
		lower := strings.ToLower(line.Text)
		anchored := containsAny(lower, p.cfg.ReferenceAnchors)

		add := func(tok string, base float64) {
			strength := base
			if anchored {
				strength = 1.0
			}
			out = append(out, candidate{
				text:       tok,
				line:       i,
				score:      line.Confidence * strength,
				anchorDist: distanceTo(i, anchors),
			})
		}

		for _, tok := range digitsRefRe.FindAllString(line.Text, -1) {
			add(tok, 0.5)
		}
		for _, tok := range alnumRefRe.FindAllString(line.Text, -1) {
			if !refShaped(tok) {
				continue
			}
			add(tok, 0.7)
		}
	}
	return out
}

// refShaped filters alphanumeric tokens down to id-looking ones: must carry
// a digit, and pure digit runs must be long enough to not be an amount.
func refShaped(tok string) bool {
	digits := 0
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if digits == len(tok) {
		return len(tok) >= 10
	}
	return true
}

// collectRecipients gathers recipient identifiers from anchored lines only:
// the text after the anchor keyword, or the full line when the anchor ends
// it.
func (p *Parser) collectRecipients(text domain.ExtractedText) []candidate {
	anchors := anchorLines(text, p.cfg.RecipientAnchors)
	var out []candidate

	for i, line := range text.Lines {
		lower := strings.ToLower(line.Text)
		for _, a := range p.cfg.RecipientAnchors {
			idx := strings.Index(lower, a)
			if idx == -1 {
				continue
			}
			rest := line.Text[idx+len(a):]
			// Anchors are stems; drop the word remnant up to a nearby colon.
			if c := strings.Index(rest, ":"); c >= 0 && c < 8 {
				rest = rest[c+1:]
			}
			rest = strings.TrimSpace(rest)
			if rest == "" {
				rest = strings.TrimSpace(line.Text)
			}
			out = append(out, candidate{
				text:       rest,
				line:       i,
				score:      line.Confidence,
				anchorDist: distanceTo(i, anchors),
			})
			break
		}
	}
	return out
}
