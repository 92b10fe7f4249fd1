package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/govalues/decimal"

	"github.com/lavka/receiptproof/internal/domain"
)

// Generates testdata/orders.json: a sample set of pending orders the server
// seeds into an empty database.
func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	now := time.Now().UTC().Truncate(time.Minute)

	recipients := []string{
		"ИП Курников А.В.",
		"",
		"",
	}

	var orders []domain.PendingOrder
	for i := 1; i <= 40; i++ {
		// Ruble amounts between 100.00 and 25000.00.
		kopecks := int64(10000 + rng.Intn(2_490_000))
		amount, err := decimal.New(kopecks, 2)
		if err != nil {
			fmt.Fprintf(os.Stderr, "amount: %v\n", err)
			os.Exit(1)
		}

		// Roughly a third of buyers were given an explicit payment reference.
		ref := ""
		if rng.Intn(3) == 0 {
			ref = fmt.Sprintf("PAY-%06d", rng.Intn(1_000_000))
		}

		createdAt := now.Add(-time.Duration(rng.Intn(20)) * time.Hour)
		orders = append(orders, domain.PendingOrder{
			ID:        fmt.Sprintf("ORD-%04d", i),
			BuyerID:   fmt.Sprintf("buyer-%03d", 1+rng.Intn(25)),
			Amount:    amount,
			Currency:  "RUB",
			Reference: ref,
			Recipient: recipients[rng.Intn(len(recipients))],
			Status:    domain.StatusAwaitingPayment,
			CreatedAt: createdAt,
			ExpiresAt: createdAt.Add(24 * time.Hour),
		})
	}

	outPath := filepath.Join(baseDir, "orders.json")
	data, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d orders to %s\n", len(orders), outPath)
}

func findTestdataDir() string {
	candidates := []string{"testdata", filepath.Join("..", "..", "testdata"), "."}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "."
}
