package verification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/lavka/receiptproof/internal/clock"
	"github.com/lavka/receiptproof/internal/domain"
	"github.com/lavka/receiptproof/internal/fraud"
	"github.com/lavka/receiptproof/internal/imageproc"
	"github.com/lavka/receiptproof/internal/matching"
	"github.com/lavka/receiptproof/internal/notify"
	"github.com/lavka/receiptproof/internal/parser"
)

// OrderStore is the narrow read/write contract the engine consumes over
// pending orders. TryTransition must be an atomic conditional update.
type OrderStore interface {
	ListAwaitingPayment(buyerID string) ([]domain.PendingOrder, error)
	GetByID(id string) (*domain.PendingOrder, error)
	TryTransition(id string, from, to domain.OrderStatus) (bool, error)
}

type SubmissionStore interface {
	Insert(*domain.ReceiptSubmission) error
}

type AuditStore interface {
	Insert(*domain.AuditEntry) error
}

// TextExtractor runs recognition with its own retry/timeout policy.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (domain.ExtractedText, error)
}

// Submission is the inbound trigger handed in by the transport layer.
type Submission struct {
	OrderID string
	BuyerID string
	Image   []byte
}

// Engine orchestrates the verification pipeline and owns the per-order
// state machine. Stages up to parsing are pure and run without any lock;
// order-scoped coordination happens only at the final claim/transition
// step.
type Engine struct {
	orders      OrderStore
	submissions SubmissionStore
	audit       AuditStore
	extractor   TextExtractor
	parser      *parser.Parser
	matcher     *matching.Matcher
	guard       *fraud.Guard
	sink        notify.Sink
	clk         clock.Clock
}

func NewEngine(
	orders OrderStore,
	submissions SubmissionStore,
	audit AuditStore,
	extractor TextExtractor,
	p *parser.Parser,
	m *matching.Matcher,
	guard *fraud.Guard,
	sink notify.Sink,
	clk clock.Clock,
) *Engine {
	return &Engine{
		orders:      orders,
		submissions: submissions,
		audit:       audit,
		extractor:   extractor,
		parser:      p,
		matcher:     m,
		guard:       guard,
		sink:        sink,
		clk:         clk,
	}
}

// Process runs one submission through the full pipeline. Every accepted
// submission ends in exactly one terminal verdict with an audit entry; only
// infrastructure failures surface as errors.
func (e *Engine) Process(ctx context.Context, in Submission) (domain.VerificationVerdict, error) {
	sub := &domain.ReceiptSubmission{
		ID:          uuid.NewString(),
		OrderID:     in.OrderID,
		BuyerID:     in.BuyerID,
		SubmittedAt: e.clk.Now(),
	}

	norm, err := imageproc.Normalize(in.Image)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidImage) {
			return domain.VerificationVerdict{}, fmt.Errorf("normalize: %w", err)
		}
		if err := e.submissions.Insert(sub); err != nil {
			return domain.VerificationVerdict{}, err
		}
		return e.finish(sub, "", domain.ParsedFields{}, domain.VerdictRejected, domain.ReasonInvalidImage, in.OrderID)
	}
	sub.ImageHash = norm.Hash

	if err := e.submissions.Insert(sub); err != nil {
		return domain.VerificationVerdict{}, err
	}

	text, err := e.extractor.Extract(ctx, norm.Bytes)
	if err != nil {
		if !errors.Is(err, domain.ErrExtractionFailed) {
			return domain.VerificationVerdict{}, fmt.Errorf("extract: %w", err)
		}
		return e.review(sub, "", domain.ParsedFields{}, domain.ReasonOCRUnavailable, in.OrderID)
	}

	fields := e.parser.Parse(text)

	snapshot, scoped, verdict, reason, err := e.snapshot(in)
	if err != nil {
		return domain.VerificationVerdict{}, err
	}
	if verdict != "" {
		fp := fraud.Fingerprint(fields, norm.Hash)
		// The identical proof resubmitted against its own confirmed order
		// replays the original verdict instead of a fresh rejection.
		if reason == domain.ReasonAlreadyConfirmed {
			claim, err := e.guard.Recall(fp)
			if err != nil {
				return domain.VerificationVerdict{}, err
			}
			if claim != nil && claim.OrderID == in.OrderID && claim.Outcome != "" {
				return e.finish(sub, fp, fields, claim.Outcome, claim.Reason, in.OrderID)
			}
		}
		return e.finish(sub, fp, fields, verdict, reason, in.OrderID)
	}

	res := e.matcher.Match(fields, snapshot)
	switch res.Outcome {
	case matching.MatchFound:
		return e.commit(sub, fields, norm.Hash, res.Order)

	case matching.MatchAmbiguous:
		log.Printf("[verification] submission %s ambiguous between %d orders", sub.ID, len(res.Candidates))
		return e.review(sub, fraud.Fingerprint(fields, norm.Hash), fields, domain.ReasonAmbiguousMatch, "")

	case matching.MatchCurrencyMismatch:
		return e.finish(sub, fraud.Fingerprint(fields, norm.Hash), fields,
			domain.VerdictRejected, domain.ReasonCurrencyMismatch, res.Order.ID)

	default: // MatchNone
		if scoped != nil && scoped.ExpiredAt(e.clk.Now()) {
			return e.finish(sub, fraud.Fingerprint(fields, norm.Hash), fields,
				domain.VerdictRejected, domain.ReasonNoMatchingOrder, scoped.ID)
		}
		orderID := ""
		if scoped != nil {
			orderID = scoped.ID
		}
		return e.review(sub, fraud.Fingerprint(fields, norm.Hash), fields, domain.ReasonUnmatched, orderID)
	}
}

// snapshot resolves the eligible order set. For order-scoped submissions a
// terminal order short-circuits to a verdict; otherwise buyer-scoped
// AwaitingPayment orders, falling back to all awaiting orders for
// out-of-band proofs.
func (e *Engine) snapshot(in Submission) (orders []domain.PendingOrder, scoped *domain.PendingOrder, verdict domain.VerdictOutcome, reason string, err error) {
	if in.OrderID != "" {
		o, err := e.orders.GetByID(in.OrderID)
		if err != nil {
			return nil, nil, "", "", err
		}
		if o == nil {
			return nil, nil, domain.VerdictRejected, domain.ReasonNoMatchingOrder, nil
		}
		switch o.Status {
		case domain.StatusAwaitingPayment:
			return []domain.PendingOrder{*o}, o, "", "", nil
		case domain.StatusConfirmed:
			return nil, o, domain.VerdictRejected, domain.ReasonAlreadyConfirmed, nil
		case domain.StatusExpired:
			return nil, o, domain.VerdictRejected, domain.ReasonOrderExpired, nil
		default: // UnderReview, Rejected
			return nil, o, domain.VerdictNeedsReview, domain.ReasonUnmatched, nil
		}
	}

	list, err := e.orders.ListAwaitingPayment(in.BuyerID)
	if err != nil {
		return nil, nil, "", "", err
	}
	if len(list) == 0 && in.BuyerID != "" {
		// Out-of-band proof: the payer id on the receipt may not be the
		// buyer id we know. Widen to the full awaiting set.
		list, err = e.orders.ListAwaitingPayment("")
		if err != nil {
			return nil, nil, "", "", err
		}
	}
	return list, nil, "", "", nil
}

// commit is the sole point of mutual exclusion: the atomic fingerprint
// claim followed by the atomic order transition. Whichever submission loses
// either race receives a deterministic rejection.
func (e *Engine) commit(sub *domain.ReceiptSubmission, fields domain.ParsedFields, imageHash string, order *domain.PendingOrder) (domain.VerificationVerdict, error) {
	now := e.clk.Now()
	fp := fraud.Fingerprint(fields, imageHash)

	// Expiry is re-checked at commit time, not only at match time: a
	// submission that raced past the sweeper must still never verify.
	if order.ExpiredAt(now) {
		if _, err := e.orders.TryTransition(order.ID, domain.StatusAwaitingPayment, domain.StatusExpired); err != nil {
			log.Printf("[verification] WARNING: expire %s: %v", order.ID, err)
		}
		return e.finish(sub, fp, fields, domain.VerdictRejected, domain.ReasonOrderExpired, order.ID)
	}

	status, claim, err := e.guard.Claim(fp, order.ID, now)
	if err != nil {
		return domain.VerificationVerdict{}, err
	}

	switch status {
	case domain.ClaimOwnedByOther:
		return e.finish(sub, fp, fields, domain.VerdictRejected, domain.ReasonDuplicateReceipt, order.ID)

	case domain.ClaimOwnedBySelf:
		// Idempotent resubmission: replay the original verdict without
		// touching order state.
		if claim.Outcome != "" {
			return e.finish(sub, fp, fields, claim.Outcome, claim.Reason, order.ID)
		}
		// The claiming submission has not finalized yet; derive the same
		// answer it will reach from current order state.
		cur, err := e.orders.GetByID(order.ID)
		if err != nil {
			return domain.VerificationVerdict{}, err
		}
		if cur != nil && cur.Status == domain.StatusConfirmed {
			return e.finish(sub, fp, fields, domain.VerdictVerified, "", order.ID)
		}
		return e.finish(sub, fp, fields, domain.VerdictRejected, domain.ReasonAlreadyConfirmed, order.ID)
	}

	// Claim accepted: attempt the exactly-once confirmation.
	ok, err := e.orders.TryTransition(order.ID, domain.StatusAwaitingPayment, domain.StatusConfirmed)
	if err != nil {
		return domain.VerificationVerdict{}, err
	}

	outcome, reason := domain.VerdictVerified, ""
	if !ok {
		cur, err := e.orders.GetByID(order.ID)
		if err != nil {
			return domain.VerificationVerdict{}, err
		}
		outcome = domain.VerdictRejected
		if cur != nil && cur.Status == domain.StatusExpired {
			reason = domain.ReasonOrderExpired
		} else {
			reason = domain.ReasonAlreadyConfirmed
		}
	}

	if err := e.guard.Finalize(fp, order.ID, outcome, reason); err != nil {
		return domain.VerificationVerdict{}, err
	}
	return e.finish(sub, fp, fields, outcome, reason, order.ID)
}

// review produces a NeedsReview verdict, moving an identified order to
// UnderReview.
func (e *Engine) review(sub *domain.ReceiptSubmission, fp string, fields domain.ParsedFields, reason, orderID string) (domain.VerificationVerdict, error) {
	if orderID != "" {
		if _, err := e.orders.TryTransition(orderID, domain.StatusAwaitingPayment, domain.StatusUnderReview); err != nil {
			return domain.VerificationVerdict{}, err
		}
	}
	return e.finish(sub, fp, fields, domain.VerdictNeedsReview, reason, orderID)
}

// finish records the audit entry, publishes the verdict event and returns
// the verdict. Every path through Process ends here.
func (e *Engine) finish(sub *domain.ReceiptSubmission, fp string, fields domain.ParsedFields, outcome domain.VerdictOutcome, reason, orderID string) (domain.VerificationVerdict, error) {
	now := e.clk.Now()

	verdict := domain.VerificationVerdict{
		SubmissionID: sub.ID,
		Outcome:      outcome,
		Reason:       reason,
		OrderID:      orderID,
		Fields:       fields,
		DecidedAt:    now,
	}

	entry := &domain.AuditEntry{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		OrderID:      orderID,
		BuyerID:      sub.BuyerID,
		Fingerprint:  fp,
		Outcome:      outcome,
		Reason:       reason,
		Fields:       fields,
		CreatedAt:    now,
	}
	if err := e.audit.Insert(entry); err != nil {
		return domain.VerificationVerdict{}, fmt.Errorf("audit: %w", err)
	}

	log.Printf("[verification] submission=%s outcome=%s reason=%s order=%s", sub.ID, outcome, reason, orderID)
	e.sink.Publish(verdict)
	return verdict, nil
}

// Resolve is the manual-review transition hook: UnderReview orders move to
// Confirmed or Rejected by an operator decision.
func (e *Engine) Resolve(orderID string, approve bool) error {
	to := domain.StatusRejected
	if approve {
		to = domain.StatusConfirmed
	}
	ok, err := e.orders.TryTransition(orderID, domain.StatusUnderReview, to)
	if err != nil {
		return err
	}
	if !ok {
		o, err := e.orders.GetByID(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOrderNotFound
		}
		return domain.ErrNotUnderReview
	}
	log.Printf("[verification] order %s resolved to %s", orderID, to)
	return nil
}
