package repository

import (
	"context"
	"time"
)

// LedgerTotals aggregates ledger entries over a time range.
type LedgerTotals struct {
	Orders      int64 `json:"orders"`
	Revenue     int64 `json:"revenue"`
	FoodRevenue int64 `json:"food_revenue"`
	Customers   int64 `json:"customers"`
}

// ReportRepository defines the read-only aggregate queries behind the program
// reports. Tier counts reflect the tier as last evaluated for each customer.
type ReportRepository interface {
	CountCustomersByTier(ctx context.Context) (map[string]int64, error)
	CountCustomersByStatus(ctx context.Context) (map[string]int64, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error)
	SumLedger(ctx context.Context, from, to time.Time) (LedgerTotals, error)
}
