package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lavka/receiptproof/internal/clock"
	"github.com/lavka/receiptproof/internal/repository"
	"github.com/lavka/receiptproof/internal/verification"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	engine *verification.Engine,
	orderRepo *repository.OrderRepo,
	auditRepo *repository.AuditRepo,
	clk clock.Clock,
) http.Handler {
	h := &Handlers{
		engine:    engine,
		orderRepo: orderRepo,
		auditRepo: auditRepo,
		clk:       clk,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Receipt submission.
		r.Post("/receipts", h.SubmitReceipt)

		// Orders.
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/review", h.ResolveReview)

		// Audit.
		r.Get("/audit", h.ListAudit)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
