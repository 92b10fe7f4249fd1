package matching

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/domain"
)

type Outcome string

const (
	MatchFound            Outcome = "MATCH"
	MatchAmbiguous        Outcome = "AMBIGUOUS"
	MatchNone             Outcome = "NONE"
	MatchCurrencyMismatch Outcome = "CURRENCY_MISMATCH"
)

// Rule identifies which priority rule produced a match.
type Rule string

const (
	RuleReference     Rule = "reference"
	RuleAmountRecency Rule = "amount_recency"
)

// Result of scoring parsed fields against the eligible order set.
type Result struct {
	Outcome Outcome
	Rule    Rule
	Order   *domain.PendingOrder
	// Candidates holds the tied orders when Outcome is MatchAmbiguous.
	Candidates []string
}

// Matcher scores parsed payment facts against AwaitingPayment orders using
// an ordered rule list: exact reference first, then amount + recency, with
// ambiguity escalated instead of guessed.
type Matcher struct {
	absTol decimal.Decimal
	pctTol decimal.Decimal
	grace  time.Duration
}

// New creates a matcher. Tolerance is ±0.01 currency units or
// AMOUNT_TOLERANCE_PCT of the expected amount (default 1%), whichever is
// larger; MATCH_GRACE_MINUTES (default 60) extends the validity window for
// the parsed payment date.
func New() *Matcher {
	return &Matcher{
		absTol: decimal.MustNew(1, 2),
		pctTol: tolerancePctFromEnv(),
		grace:  graceFromEnv(),
	}
}

func tolerancePctFromEnv() decimal.Decimal {
	if v := os.Getenv("AMOUNT_TOLERANCE_PCT"); v != "" {
		if d, err := decimal.Parse(v); err == nil && d.Sign() >= 0 {
			return d
		}
	}
	return decimal.MustNew(1, 2) // 0.01
}

func graceFromEnv() time.Duration {
	if v := os.Getenv("MATCH_GRACE_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 0 {
			return time.Duration(m) * time.Minute
		}
	}
	return time.Hour
}

// Match evaluates the rules in priority order against the given snapshot of
// eligible orders. The snapshot must already be scoped (buyer's awaiting
// orders, or the single explicitly targeted order).
func (m *Matcher) Match(fields domain.ParsedFields, orders []domain.PendingOrder) Result {
	// Rule 1: exact reference match.
	if ref := normalizeRef(fields.Reference); ref != "" {
		for i := range orders {
			o := &orders[i]
			if o.Reference == "" || normalizeRef(o.Reference) != ref {
				continue
			}
			if currencyConflict(fields, o) {
				return Result{Outcome: MatchCurrencyMismatch, Order: o}
			}
			if fields.HasAmount && m.withinTolerance(fields.Amount, o.Amount) {
				return Result{Outcome: MatchFound, Rule: RuleReference, Order: o}
			}
		}
	}

	if !fields.HasAmount {
		return Result{Outcome: MatchNone}
	}

	// Rule 2: amount + recency. Collect every order the amount fits; more
	// than one is ambiguity, never an arbitrary pick.
	var matched []*domain.PendingOrder
	var mismatched *domain.PendingOrder
	for i := range orders {
		o := &orders[i]
		if !m.withinTolerance(fields.Amount, o.Amount) {
			continue
		}
		if currencyConflict(fields, o) {
			mismatched = o
			continue
		}
		if fields.Date != nil && !m.inWindow(*fields.Date, o) {
			continue
		}
		if recipientConflict(fields, o) {
			continue
		}
		matched = append(matched, o)
	}

	switch len(matched) {
	case 1:
		return Result{Outcome: MatchFound, Rule: RuleAmountRecency, Order: matched[0]}
	case 0:
		if mismatched != nil {
			return Result{Outcome: MatchCurrencyMismatch, Order: mismatched}
		}
		return Result{Outcome: MatchNone}
	default:
		ids := make([]string, len(matched))
		for i, o := range matched {
			ids[i] = o.ID
		}
		return Result{Outcome: MatchAmbiguous, Candidates: ids}
	}
}

// withinTolerance reports whether parsed equals expected within
// max(absTol, pctTol × expected).
func (m *Matcher) withinTolerance(parsed, expected decimal.Decimal) bool {
	diff, err := parsed.Sub(expected)
	if err != nil {
		return false
	}
	diff = diff.Abs()

	tol := m.absTol
	if pct, err := expected.Mul(m.pctTol); err == nil && pct.Cmp(tol) > 0 {
		tol = pct
	}
	return diff.Cmp(tol) <= 0
}

// inWindow reports whether the parsed payment date falls inside the order's
// validity window: creation day through expiry plus the grace period.
func (m *Matcher) inWindow(d time.Time, o *domain.PendingOrder) bool {
	dayStart := o.CreatedAt.Truncate(24 * time.Hour)
	return !d.Before(dayStart) && !d.After(o.ExpiresAt.Add(m.grace))
}

func currencyConflict(fields domain.ParsedFields, o *domain.PendingOrder) bool {
	return fields.Currency != "" && o.Currency != "" &&
		!strings.EqualFold(fields.Currency, o.Currency)
}

// recipientConflict treats a confidently parsed recipient that contradicts
// the order's expected requisites as non-matching evidence.
func recipientConflict(fields domain.ParsedFields, o *domain.PendingOrder) bool {
	if o.Recipient == "" || fields.Recipient == "" || fields.RecipientConfidence < 0.8 {
		return false
	}
	a := strings.ToLower(strings.Join(strings.Fields(fields.Recipient), " "))
	b := strings.ToLower(strings.Join(strings.Fields(o.Recipient), " "))
	return !strings.Contains(a, b) && !strings.Contains(b, a)
}

func normalizeRef(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
