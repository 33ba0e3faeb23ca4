//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ledgerTables are cleared in dependency order; schema_migrations is left alone
var ledgerTables = []string{"audit_logs", "payments"}

// Truncates the payment ledger of a development database.
// Usage: DATABASE_URL=postgres://... go run scripts/clear_db.go
func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var counts []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS n FROM payments GROUP BY status`); err != nil {
		log.Fatalf("Failed to count payments: %v", err)
	}
	for _, c := range counts {
		fmt.Printf("  %-22s %d\n", c.Status, c.N)
	}

	for _, table := range ledgerTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			log.Printf("Warning: Failed to truncate %s: %v", table, err)
			continue
		}
		fmt.Printf("✓ Cleared %s\n", table)
	}

	fmt.Println("\n✅ Ledger cleared")
}
