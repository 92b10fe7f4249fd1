package verification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/clock"
	"github.com/lavka/receiptproof/internal/domain"
	"github.com/lavka/receiptproof/internal/fraud"
	"github.com/lavka/receiptproof/internal/matching"
	"github.com/lavka/receiptproof/internal/parser"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeOrderStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.PendingOrder
	confirms int
}

func newFakeOrderStore(orders ...domain.PendingOrder) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*domain.PendingOrder)}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *fakeOrderStore) ListAwaitingPayment(buyerID string) ([]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingOrder
	for _, o := range s.orders {
		if o.Status != domain.StatusAwaitingPayment {
			continue
		}
		if buyerID != "" && o.BuyerID != buyerID {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeOrderStore) GetByID(id string) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) TryTransition(id string, from, to domain.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if to == domain.StatusConfirmed && from == domain.StatusAwaitingPayment {
		s.confirms++
	}
	return true, nil
}

func (s *fakeOrderStore) status(id string) domain.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

type fakeSubmissionStore struct {
	mu   sync.Mutex
	subs []domain.ReceiptSubmission
}

func (s *fakeSubmissionStore) Insert(sub *domain.ReceiptSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, *sub)
	return nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *fakeAuditStore) Insert(e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	claims map[string]*domain.FingerprintClaim
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[string]*domain.FingerprintClaim)}
}

func (l *fakeLedger) TryClaim(fp, orderID string, now time.Time) (domain.ClaimStatus, *domain.FingerprintClaim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.claims[fp]; ok {
		cp := *c
		if c.OrderID == orderID {
			return domain.ClaimOwnedBySelf, &cp, nil
		}
		return domain.ClaimOwnedByOther, &cp, nil
	}
	c := &domain.FingerprintClaim{Fingerprint: fp, OrderID: orderID, ClaimedAt: now}
	l.claims[fp] = c
	cp := *c
	return domain.ClaimAccepted, &cp, nil
}

func (l *fakeLedger) Get(fp string) (*domain.FingerprintClaim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.claims[fp]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (l *fakeLedger) RecordVerdict(fp, orderID string, outcome domain.VerdictOutcome, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.claims[fp]; ok && c.OrderID == orderID {
		c.Outcome = outcome
		c.Reason = reason
	}
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	verdicts []domain.VerificationVerdict
}

func (s *fakeSink) Publish(v domain.VerificationVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, v)
}

type fixedExtractor struct {
	text domain.ExtractedText
	err  error
}

func (f fixedExtractor) Extract(ctx context.Context, image []byte) (domain.ExtractedText, error) {
	return f.text, f.err
}

// --- fixtures ---

type fixture struct {
	engine *Engine
	orders *fakeOrderStore
	subs   *fakeSubmissionStore
	audit  *fakeAuditStore
	ledger *fakeLedger
	sink   *fakeSink
}

func newFixture(extractor TextExtractor, orders ...domain.PendingOrder) *fixture {
	f := &fixture{
		orders: newFakeOrderStore(orders...),
		subs:   &fakeSubmissionStore{},
		audit:  &fakeAuditStore{},
		ledger: newFakeLedger(),
		sink:   &fakeSink{},
	}
	f.engine = NewEngine(
		f.orders, f.subs, f.audit,
		extractor,
		parser.New(parser.DefaultConfig()),
		matching.New(),
		fraud.NewGuard(f.ledger),
		f.sink,
		clock.NewFixed(testNow),
	)
	return f
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func awaitingOrder(id, buyerID, amount string) domain.PendingOrder {
	return domain.PendingOrder{
		ID:        id,
		BuyerID:   buyerID,
		Amount:    mustDecimal(amount),
		Currency:  "RUB",
		Status:    domain.StatusAwaitingPayment,
		CreatedAt: testNow.Add(-time.Hour),
		ExpiresAt: testNow.Add(23 * time.Hour),
	}
}

func receiptText(lines ...string) domain.ExtractedText {
	var text domain.ExtractedText
	for _, l := range lines {
		text.Lines = append(text.Lines, domain.Line{Text: l, Confidence: 0.9})
	}
	return text
}

// receiptImage renders a valid synthetic image; the seed shifts the band
// pattern so distinct seeds hash to distinct fingerprints.
func receiptImage(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 300, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 300; x++ {
			v := uint8(245)
			if (y+seed*7)%30 < 6 {
				v = 30
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func sole(t *testing.T, entries []domain.AuditEntry) domain.AuditEntry {
	t.Helper()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	return entries[0]
}

// --- tests ---

func TestProcess_Verified(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "1500.00")
	order.Reference = "4830291844"
	text := receiptText(
		"Перевод выполнен",
		"Сумма: 1500.00 ₽",
		"Номер операции 4830291844",
	)
	f := newFixture(fixedExtractor{text: text}, order)

	v, err := f.engine.Process(context.Background(), Submission{BuyerID: "buyer-1", Image: receiptImage(t, 1)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictVerified {
		t.Fatalf("expected VERIFIED, got %s (%s)", v.Outcome, v.Reason)
	}
	if v.OrderID != "ord-1" {
		t.Fatalf("expected ord-1, got %q", v.OrderID)
	}
	if f.orders.status("ord-1") != domain.StatusConfirmed {
		t.Fatalf("expected order confirmed, got %s", f.orders.status("ord-1"))
	}

	entry := sole(t, f.audit.entries)
	if entry.Outcome != domain.VerdictVerified || entry.Fingerprint != "ref:4830291844" {
		t.Fatalf("audit entry: %+v", entry)
	}
	if len(f.sink.verdicts) != 1 {
		t.Fatalf("expected verdict published, got %d", len(f.sink.verdicts))
	}
	if len(f.subs.subs) != 1 || f.subs.subs[0].ImageHash == "" {
		t.Fatalf("expected submission persisted with hash: %+v", f.subs.subs)
	}

	claim := f.ledger.claims["ref:4830291844"]
	if claim == nil || claim.Outcome != domain.VerdictVerified {
		t.Fatalf("expected finalized claim, got %+v", claim)
	}
}

func TestProcess_ResubmitAfterConfirm(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "1500.00")
	text := receiptText("Сумма: 1500.00 ₽")
	f := newFixture(fixedExtractor{text: text}, order)
	img := receiptImage(t, 1)

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: img})
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if v.Outcome != domain.VerdictVerified {
		t.Fatalf("expected VERIFIED, got %s (%s)", v.Outcome, v.Reason)
	}

	// The identical proof against the now-confirmed order replays the
	// original verdict; order state is untouched.
	v, err = f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: img})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if v.Outcome != domain.VerdictVerified {
		t.Fatalf("expected replayed VERIFIED, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-1") != domain.StatusConfirmed {
		t.Fatalf("order state changed on resubmission")
	}

	// A different proof against the confirmed order is a plain rejection.
	v, err = f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 2)})
	if err != nil {
		t.Fatalf("third process: %v", err)
	}
	if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonAlreadyConfirmed {
		t.Fatalf("expected rejection for confirmed order, got %s (%s)", v.Outcome, v.Reason)
	}
}

func TestProcess_ClaimReplay(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "1500.00")
	text := receiptText("Сумма: 1500.00 ₽", "Номер операции 4830291844")
	f := newFixture(fixedExtractor{text: text}, order)

	// The fingerprint is already claimed by this order with a recorded
	// verdict; a matching resubmission replays it without a transition.
	f.ledger.claims["ref:4830291844"] = &domain.FingerprintClaim{
		Fingerprint: "ref:4830291844",
		OrderID:     "ord-1",
		ClaimedAt:   testNow.Add(-time.Minute),
		Outcome:     domain.VerdictVerified,
	}

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 1)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictVerified {
		t.Fatalf("expected replayed VERIFIED, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-1") != domain.StatusAwaitingPayment {
		t.Fatalf("replay must not touch order state, got %s", f.orders.status("ord-1"))
	}
}

func TestProcess_DuplicateAcrossOrders(t *testing.T) {
	a := awaitingOrder("ord-a", "buyer-1", "500.00")
	b := awaitingOrder("ord-b", "buyer-2", "500.00")
	text := receiptText("Оплата 500.00 ₽")
	f := newFixture(fixedExtractor{text: text}, a, b)
	img := receiptImage(t, 3)

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-a", BuyerID: "buyer-1", Image: img})
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if v.Outcome != domain.VerdictVerified {
		t.Fatalf("expected VERIFIED, got %s (%s)", v.Outcome, v.Reason)
	}

	// The same image against a different order is proof reuse.
	v, err = f.engine.Process(context.Background(), Submission{OrderID: "ord-b", BuyerID: "buyer-2", Image: img})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonDuplicateReceipt {
		t.Fatalf("expected duplicate rejection, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-b") != domain.StatusAwaitingPayment {
		t.Fatalf("second order must stay awaiting, got %s", f.orders.status("ord-b"))
	}
}

func TestProcess_Ambiguous(t *testing.T) {
	a := awaitingOrder("ord-a", "buyer-1", "500.00")
	b := awaitingOrder("ord-b", "buyer-1", "500.00")
	text := receiptText("Оплата 500.00 ₽")
	f := newFixture(fixedExtractor{text: text}, a, b)

	v, err := f.engine.Process(context.Background(), Submission{BuyerID: "buyer-1", Image: receiptImage(t, 4)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictNeedsReview || v.Reason != domain.ReasonAmbiguousMatch {
		t.Fatalf("expected ambiguous review, got %s (%s)", v.Outcome, v.Reason)
	}
	// No arbitrary pick: both candidates stay awaiting.
	if f.orders.status("ord-a") != domain.StatusAwaitingPayment || f.orders.status("ord-b") != domain.StatusAwaitingPayment {
		t.Fatalf("candidates must stay awaiting")
	}
}

func TestProcess_UnmatchedScopedGoesToReview(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "1500.00")
	text := receiptText("Оплата 999.00 ₽")
	f := newFixture(fixedExtractor{text: text}, order)

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 5)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictNeedsReview || v.Reason != domain.ReasonUnmatched {
		t.Fatalf("expected unmatched review, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-1") != domain.StatusUnderReview {
		t.Fatalf("expected order under review, got %s", f.orders.status("ord-1"))
	}
}

func TestProcess_NoMatchingOrder(t *testing.T) {
	text := receiptText("Оплата 500.00 ₽")
	f := newFixture(fixedExtractor{text: text})

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "missing", BuyerID: "buyer-1", Image: receiptImage(t, 6)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonNoMatchingOrder {
		t.Fatalf("expected no-matching-order rejection, got %s (%s)", v.Outcome, v.Reason)
	}
}

func TestProcess_ExpiredNeverVerifies(t *testing.T) {
	t.Run("overdue but not yet swept", func(t *testing.T) {
		order := awaitingOrder("ord-1", "buyer-1", "500.00")
		order.ExpiresAt = testNow.Add(-time.Minute)
		text := receiptText("Оплата 500.00 ₽")
		f := newFixture(fixedExtractor{text: text}, order)

		v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 7)})
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonOrderExpired {
			t.Fatalf("expected expiry rejection, got %s (%s)", v.Outcome, v.Reason)
		}
		if f.orders.status("ord-1") != domain.StatusExpired {
			t.Fatalf("expected order expired, got %s", f.orders.status("ord-1"))
		}
	})

	t.Run("already swept", func(t *testing.T) {
		order := awaitingOrder("ord-1", "buyer-1", "500.00")
		order.Status = domain.StatusExpired
		text := receiptText("Оплата 500.00 ₽")
		f := newFixture(fixedExtractor{text: text}, order)

		v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 8)})
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonOrderExpired {
			t.Fatalf("expected expiry rejection, got %s (%s)", v.Outcome, v.Reason)
		}
	})
}

func TestProcess_CurrencyMismatch(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "100.00")
	order.Currency = "USD"
	text := receiptText("Оплата 100.00 ₽")
	f := newFixture(fixedExtractor{text: text}, order)

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 9)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonCurrencyMismatch {
		t.Fatalf("expected currency rejection, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-1") != domain.StatusAwaitingPayment {
		t.Fatalf("order must stay awaiting, got %s", f.orders.status("ord-1"))
	}
}

func TestProcess_InvalidImage(t *testing.T) {
	f := newFixture(fixedExtractor{text: receiptText("never reached")})

	v, err := f.engine.Process(context.Background(), Submission{BuyerID: "buyer-1", Image: []byte("not an image")})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictRejected || v.Reason != domain.ReasonInvalidImage {
		t.Fatalf("expected invalid-image rejection, got %s (%s)", v.Outcome, v.Reason)
	}
	// The submission and its audit trail are still recorded.
	if len(f.subs.subs) != 1 {
		t.Fatalf("expected submission recorded, got %d", len(f.subs.subs))
	}
	sole(t, f.audit.entries)
}

func TestProcess_ExtractionUnavailable(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "500.00")
	f := newFixture(fixedExtractor{err: fmt.Errorf("%w: engine down", domain.ErrExtractionFailed)}, order)

	v, err := f.engine.Process(context.Background(), Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: receiptImage(t, 10)})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if v.Outcome != domain.VerdictNeedsReview || v.Reason != domain.ReasonOCRUnavailable {
		t.Fatalf("expected review on extraction failure, got %s (%s)", v.Outcome, v.Reason)
	}
	if f.orders.status("ord-1") != domain.StatusUnderReview {
		t.Fatalf("expected order under review, got %s", f.orders.status("ord-1"))
	}
}

func TestResolve(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "500.00")
	order.Status = domain.StatusUnderReview
	other := awaitingOrder("ord-2", "buyer-1", "700.00")
	f := newFixture(fixedExtractor{}, order, other)

	t.Run("approve confirms", func(t *testing.T) {
		if err := f.engine.Resolve("ord-1", true); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if f.orders.status("ord-1") != domain.StatusConfirmed {
			t.Fatalf("expected confirmed, got %s", f.orders.status("ord-1"))
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		if err := f.engine.Resolve("missing", true); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("not under review", func(t *testing.T) {
		if err := f.engine.Resolve("ord-2", false); !errors.Is(err, domain.ErrNotUnderReview) {
			t.Fatalf("expected ErrNotUnderReview, got %v", err)
		}
	})
}

func TestProcess_ConcurrentSubmissionsConfirmOnce(t *testing.T) {
	order := awaitingOrder("ord-1", "buyer-1", "500.00")
	text := receiptText("Оплата 500.00 ₽")
	f := newFixture(fixedExtractor{text: text}, order)

	// Distinct images: every goroutine carries its own fingerprint, so the
	// race is decided purely by the atomic order transition.
	const n = 12
	images := make([][]byte, n)
	for i := range images {
		images[i] = receiptImage(t, 100+i)
	}

	var wg sync.WaitGroup
	verdicts := make([]domain.VerificationVerdict, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i], errs[i] = f.engine.Process(context.Background(),
				Submission{OrderID: "ord-1", BuyerID: "buyer-1", Image: images[i]})
		}(i)
	}
	wg.Wait()

	verified := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		switch verdicts[i].Outcome {
		case domain.VerdictVerified:
			verified++
		case domain.VerdictRejected:
			if verdicts[i].Reason != domain.ReasonAlreadyConfirmed {
				t.Fatalf("goroutine %d: unexpected reason %s", i, verdicts[i].Reason)
			}
		default:
			t.Fatalf("goroutine %d: unexpected outcome %s", i, verdicts[i].Outcome)
		}
	}

	if verified != 1 {
		t.Fatalf("expected exactly one VERIFIED, got %d", verified)
	}
	f.orders.mu.Lock()
	confirms := f.orders.confirms
	f.orders.mu.Unlock()
	if confirms != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", confirms)
	}
	if f.orders.status("ord-1") != domain.StatusConfirmed {
		t.Fatalf("expected order confirmed")
	}
}
