package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

func newFactory(t *testing.T) *Factory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, loyalty.AutoMigrate(db))
	return NewFactory(db)
}

func TestFactoryReturnsSingletons(t *testing.T) {
	f := newFactory(t)
	assert.Same(t, f.GetRepositories(), f.GetRepositories())
	assert.NotNil(t, f.GetLoyaltyRepository())
	assert.NotNil(t, f.GetReportRepository())
}

func TestReportRepository(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	engine := loyalty.NewEngine(f.GetLoyaltyRepository(), loyalty.DefaultPolicy(), loyalty.WithClock(clk))

	_, err := engine.RecordOrder(ctx, "big", 6000, 1000, time.Time{})
	require.NoError(t, err)
	_, err = engine.RecordOrder(ctx, "small", 300, 0, time.Time{})
	require.NoError(t, err)
	_, err = engine.RecordOrder(ctx, "small", 200, 200, time.Time{})
	require.NoError(t, err)
	_, err = engine.RecordOrder(ctx, "old", 900, 0, start.AddDate(0, -1, 0))
	require.NoError(t, err)
	_, err = engine.ActivateSubscription(ctx, "small", true)
	require.NoError(t, err)
	require.NoError(t, engine.DeactivateCustomer(ctx, "old"))

	reports := f.GetReportRepository()

	tiers, err := reports.CountCustomersByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"club": 1, "premium": 1}, tiers)

	statuses, err := reports.CountCustomersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"active": 2, "inactive": 1}, statuses)

	subs, err := reports.CountSubscriptionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"active": 1}, subs)

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	totals, err := reports.SumLedger(ctx, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, LedgerTotals{Orders: 3, Revenue: 6500, FoodRevenue: 1200, Customers: 2}, totals)

	empty, err := reports.SumLedger(ctx, from.AddDate(1, 0, 0), from.AddDate(1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, LedgerTotals{}, empty)
}
