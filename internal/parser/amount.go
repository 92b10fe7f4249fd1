package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/currency"
	"github.com/lavka/receiptproof/internal/domain"
)

// numberRe matches digit runs with optional space/dot/comma group
// separators, after digit-confusion repair has already run.
var numberRe = regexp.MustCompile(`[0-9](?:[0-9 \x{00A0}.,]*[0-9])?`)

// maxPlausibleAmount guards against card numbers and references being read
// as amounts.
var maxPlausibleAmount = decimal.MustNew(10_000_000, 0)

// digitConfusions maps letters commonly substituted for digits in OCR
// output. Applied only to tokens that already contain a digit.
var digitConfusions = map[rune]rune{
	'O': '0', 'o': '0', 'О': '0', 'о': '0',
	'l': '1', 'I': '1', '|': '1',
	'S': '5', 's': '5',
	'B': '8', 'В': '8',
	'Z': '2', 'z': '2',
}

// repairDigits rewrites confusable letters inside numeric-looking tokens.
// Tokens without any digit are left alone so words stay words.
func repairDigits(line string) string {
	tokens := strings.Fields(line)
	for i, tok := range tokens {
		if !strings.ContainsAny(tok, "0123456789") {
			continue
		}
		tokens[i] = strings.Map(func(r rune) rune {
			if d, ok := digitConfusions[r]; ok {
				return d
			}
			return r
		}, tok)
	}
	return strings.Join(tokens, " ")
}

// collectAmounts gathers every plausible monetary amount. A bare number
// qualifies only through an anchor keyword, an adjacent currency token, or
// a two-decimal grammar; isolated integers are ignored as noise.
func (p *Parser) collectAmounts(text domain.ExtractedText) []candidate {
	anchors := anchorLines(text, p.cfg.AmountAnchors)
	var out []candidate

	for i, line := range text.Lines {
		repaired := repairDigits(line.Text)
		lower := strings.ToLower(repaired)
		anchored := containsAny(lower, p.cfg.AmountAnchors)

		for _, loc := range numberRe.FindAllStringIndex(repaired, -1) {
			raw := repaired[loc[0]:loc[1]]
			norm, twoDecimals, ok := normalizeNumber(raw)
			if !ok {
				continue
			}
			amt, err := decimal.Parse(norm)
			if err != nil || amt.Sign() <= 0 || amt.Cmp(maxPlausibleAmount) > 0 {
				continue
			}

			cur := currencyNear(lower, loc[0], loc[1])

			var strength float64
			switch {
			case anchored:
				strength = 1.0
			case cur != "":
				strength = 0.9
			case twoDecimals:
				strength = 0.6
			default:
				continue
			}

			out = append(out, candidate{
				text:       strings.TrimSpace(norm + " " + cur),
				line:       i,
				score:      line.Confidence * strength,
				anchorDist: distanceTo(i, anchors),
			})
		}
	}
	return out
}

// parseAmountText splits a stored amount candidate back into value and
// currency code.
func parseAmountText(s string) (decimal.Decimal, string, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return decimal.Decimal{}, "", fmt.Errorf("%w: empty", domain.ErrInvalidAmount)
	}
	amt, err := decimal.Parse(parts[0])
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	cur := ""
	if len(parts) > 1 {
		cur = parts[1]
	}
	return amt, cur, nil
}

// normalizeNumber collapses group separators and resolves the decimal
// separator: a trailing 1-2 digit group after the last dot/comma is the
// fraction, a 3-digit group is a thousands group ("1.500" reads as 1500).
func normalizeNumber(raw string) (norm string, twoDecimals bool, ok bool) {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return "", false, false
	}

	last := strings.LastIndexAny(s, ".,")
	if last == -1 {
		return s, false, true
	}

	head := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, s[:last])
	frac := s[last+1:]

	if head == "" {
		return "", false, false
	}

	switch len(frac) {
	case 0:
		return head, false, true
	case 1, 2:
		return head + "." + frac, len(frac) == 2, true
	default:
		return head + frac, false, true
	}
}

// currencyNear reports the currency code for a token found within a few
// characters of the matched number, or "" when none is adjacent.
func currencyNear(lower string, start, end int) string {
	const window = 12
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(lower) {
		hi = len(lower)
	}
	vicinity := lower[lo:hi]

	for _, tok := range currency.Tokens() {
		if strings.Contains(vicinity, tok) {
			return currency.FromToken(tok)
		}
	}
	return ""
}
