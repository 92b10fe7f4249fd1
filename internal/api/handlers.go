package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/clock"
	"github.com/lavka/receiptproof/internal/currency"
	"github.com/lavka/receiptproof/internal/domain"
	"github.com/lavka/receiptproof/internal/repository"
	"github.com/lavka/receiptproof/internal/verification"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	engine    *verification.Engine
	orderRepo *repository.OrderRepo
	auditRepo *repository.AuditRepo
	clk       clock.Clock
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func orderTTL() time.Duration {
	if v := os.Getenv("ORDER_TTL_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			return time.Duration(h) * time.Hour
		}
	}
	return 24 * time.Hour
}

// --- SubmitReceipt ---

// SubmitReceipt accepts a payment-proof upload and runs it through the
// verification pipeline. Verdicts are 200 responses regardless of outcome;
// 4xx is reserved for malformed requests.
func (h *Handlers) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	buyerID := r.FormValue("buyer_id")
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}
	orderID := r.FormValue("order_id")

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image field is required: "+err.Error())
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read image: "+err.Error())
		return
	}

	verdict, err := h.engine.Process(r.Context(), verification.Submission{
		OrderID: orderID,
		BuyerID: buyerID,
		Image:   image,
	})
	if err != nil {
		log.Printf("[api] process submission: %v", err)
		writeError(w, http.StatusInternalServerError, "submission processing failed")
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// --- CreateOrder ---

type createOrderRequest struct {
	BuyerID   string `json:"buyer_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	TTLHours  int    `json:"ttl_hours,omitempty"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	amount, err := decimal.Parse(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	cur, err := currency.Normalize(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := orderTTL()
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	now := h.clk.Now()
	order := domain.PendingOrder{
		ID:        uuid.NewString(),
		BuyerID:   req.BuyerID,
		Amount:    amount,
		Currency:  cur,
		Reference: req.Reference,
		Recipient: req.Recipient,
		Status:    domain.StatusAwaitingPayment,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := h.orderRepo.Insert(&order); err != nil {
		log.Printf("[api] insert order: %v", err)
		writeError(w, http.StatusInternalServerError, "create order failed")
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// --- ListOrders ---

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.OrderFilter{
		Status:  q.Get("status"),
		BuyerID: q.Get("buyer_id"),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	orders, total, err := h.orderRepo.List(filter)
	if err != nil {
		log.Printf("[api] list orders: %v", err)
		writeError(w, http.StatusInternalServerError, "list orders failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

// --- GetOrder ---

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.orderRepo.GetByID(id)
	if err != nil {
		log.Printf("[api] get order: %v", err)
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- ResolveReview ---

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveReview is the manual-review transition hook: confirm or reject an
// UnderReview order.
func (h *Handlers) ResolveReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	var approve bool
	switch req.Resolution {
	case "confirm":
		approve = true
	case "reject":
		approve = false
	default:
		writeError(w, http.StatusBadRequest, `resolution must be "confirm" or "reject"`)
		return
	}

	if err := h.engine.Resolve(id, approve); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrNotUnderReview):
			writeError(w, http.StatusConflict, "order is not under review")
		default:
			log.Printf("[api] resolve review: %v", err)
			writeError(w, http.StatusInternalServerError, "resolve failed")
		}
		return
	}

	order, err := h.orderRepo.GetByID(id)
	if err != nil || order == nil {
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- ListAudit ---

func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AuditFilter{
		OrderID: q.Get("order_id"),
		Outcome: q.Get("verdict"),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	entries, total, err := h.auditRepo.List(filter)
	if err != nil {
		log.Printf("[api] list audit: %v", err)
		writeError(w, http.StatusInternalServerError, "list audit failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

// --- Dashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderRepo.CountByStatus()
	if err != nil {
		log.Printf("[api] dashboard orders: %v", err)
		writeError(w, http.StatusInternalServerError, "dashboard failed")
		return
	}
	verdicts, err := h.auditRepo.CountByOutcome()
	if err != nil {
		log.Printf("[api] dashboard verdicts: %v", err)
		writeError(w, http.StatusInternalServerError, "dashboard failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders_by_status":    orders,
		"verdicts_by_outcome": verdicts,
	})
}
