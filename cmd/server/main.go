package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lavka/receiptproof/internal/api"
	"github.com/lavka/receiptproof/internal/clock"
	"github.com/lavka/receiptproof/internal/domain"
	"github.com/lavka/receiptproof/internal/fraud"
	"github.com/lavka/receiptproof/internal/matching"
	"github.com/lavka/receiptproof/internal/notify"
	"github.com/lavka/receiptproof/internal/ocr"
	"github.com/lavka/receiptproof/internal/parser"
	"github.com/lavka/receiptproof/internal/repository"
	"github.com/lavka/receiptproof/internal/verification"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "receiptproof.db"
	}

	log.Printf("Initializing database at %s", dbPath)
	db, err := repository.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	orderRepo := repository.NewOrderRepo(db)
	submissionRepo := repository.NewSubmissionRepo(db)
	fingerprintRepo := repository.NewFingerprintRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	// Create the pipeline.
	clk := clock.NewSystem()
	extractor := ocr.NewExtractor(ocr.NewTesseract())
	engine := verification.NewEngine(
		orderRepo,
		submissionRepo,
		auditRepo,
		extractor,
		parser.New(parser.DefaultConfig()),
		matching.New(),
		fraud.NewGuard(fingerprintRepo),
		notify.NewLogSink(),
		clk,
	)

	// Seed orders if DB is empty.
	count, err := orderRepo.Count()
	if err != nil {
		log.Fatalf("Failed to count orders: %v", err)
	}
	if count == 0 {
		log.Println("Database is empty, seeding orders from testdata...")
		if err := seedOrders(orderRepo, clk); err != nil {
			log.Printf("WARNING: Failed to seed orders: %v", err)
		}
	} else {
		log.Printf("Database already has %d orders, skipping seed", count)
	}

	// Expire overdue orders in the background.
	go expirySweeper(orderRepo, clk)

	// Create router.
	router := api.NewRouter(engine, orderRepo, auditRepo, clk)

	log.Printf("Lavka Receipt Verification Service")
	log.Printf("Listening on http://localhost:%s", port)
	log.Printf("API base: http://localhost:%s/api/v1", port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/receipts")
	log.Printf("  POST   /api/v1/orders")
	log.Printf("  GET    /api/v1/orders")
	log.Printf("  GET    /api/v1/orders/{id}")
	log.Printf("  POST   /api/v1/orders/{id}/review")
	log.Printf("  GET    /api/v1/audit")
	log.Printf("  GET    /api/v1/dashboard")

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// expirySweeper periodically moves overdue AwaitingPayment orders to
// Expired. The engine also re-checks expiry at commit time, so the sweep
// interval only affects how quickly listings reflect it.
func expirySweeper(repo *repository.OrderRepo, clk clock.Clock) {
	interval := 60 * time.Second
	if v := os.Getenv("EXPIRY_SWEEP_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			interval = time.Duration(s) * time.Second
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		n, err := repo.ExpireOverdue(clk.Now())
		if err != nil {
			log.Printf("[sweeper] WARNING: expire overdue: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("[sweeper] expired %d overdue orders", n)
		}
	}
}

func seedOrders(repo *repository.OrderRepo, clk clock.Clock) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		"testdata/orders.json",
		filepath.Join(".", "testdata", "orders.json"),
	}

	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "orders.json"),
			filepath.Join(dir, "..", "..", "testdata", "orders.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Printf("Loaded orders from %s", path)
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find orders.json in any candidate path: %w", loadErr)
	}

	var orders []domain.PendingOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return fmt.Errorf("unmarshal orders: %w", err)
	}

	// Seeded orders expire relative to now so samples are usable.
	now := clk.Now()
	for i := range orders {
		if orders[i].Status == "" {
			orders[i].Status = domain.StatusAwaitingPayment
		}
		if orders[i].CreatedAt.IsZero() {
			orders[i].CreatedAt = now
		}
		if orders[i].ExpiresAt.IsZero() {
			orders[i].ExpiresAt = now.Add(24 * time.Hour)
		}
	}

	inserted, err := repo.BulkInsert(orders)
	if err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}

	log.Printf("Seeded %d orders (out of %d in file)", inserted, len(orders))
	return nil
}
