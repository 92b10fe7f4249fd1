package currency

import (
	"fmt"
	"strings"

	"github.com/lavka/receiptproof/internal/domain"
)

// supported lists the currency codes orders may be denominated in.
var supported = map[string]bool{
	"RUB": true,
	"USD": true,
	"EUR": true,
	"KZT": true,
}

// tokens maps currency symbols and receipt keywords to codes. OCR output of
// Russian bank receipts uses the ruble sign, "руб." or "RUB" next to the
// amount; keys are matched case-insensitively.
var tokens = map[string]string{
	"₽":    "RUB",
	"руб":  "RUB",
	"руб.": "RUB",
	"rub":  "RUB",
	"р.":   "RUB",
	"$":    "USD",
	"usd":  "USD",
	"€":    "EUR",
	"eur":  "EUR",
	"₸":    "KZT",
	"kzt":  "KZT",
	"тг":   "KZT",
}

// Supported reports whether code is a known currency code.
func Supported(code string) bool {
	return supported[strings.ToUpper(code)]
}

// Normalize validates and upper-cases a currency code.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !supported[c] {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// FromToken resolves a symbol or keyword found next to an amount into a
// currency code. Returns "" when the token is not recognized.
func FromToken(tok string) string {
	return tokens[strings.ToLower(strings.TrimSpace(tok))]
}

// Tokens returns all recognized symbols and keywords, longest first, for
// use in scanning recognized text.
func Tokens() []string {
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	return out
}
