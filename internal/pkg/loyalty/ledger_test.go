package loyalty

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

func entry(t *testing.T, amount int64, at time.Time) models.LedgerEntry {
	t.Helper()
	e, err := models.NewLedgerEntry("c1", amount, 0, at)
	require.NoError(t, err)
	return *e
}

func TestSpendingLedger_CurrentCalendarMonthTotal(t *testing.T) {
	ledger := NewSpendingLedger([]models.LedgerEntry{
		entry(t, 100, date(2026, 2, 28, 23, 59)),
		entry(t, 200, date(2026, 3, 1, 0, 0)),
		entry(t, 300, date(2026, 3, 31, 23, 59)),
		entry(t, 400, date(2026, 4, 1, 0, 0)),
	}, time.UTC, false)

	assert.Equal(t, int64(500), ledger.CurrentCalendarMonthTotal(date(2026, 3, 15, 12, 0)))
	assert.Equal(t, int64(400), ledger.CurrentCalendarMonthTotal(date(2026, 4, 2, 0, 0)))
	assert.Equal(t, int64(0), ledger.CurrentCalendarMonthTotal(date(2026, 6, 1, 0, 0)))
}

func TestSpendingLedger_UsesCustomerTimezone(t *testing.T) {
	tokyo := mustLocation(t, "Asia/Tokyo")
	// 2026-03-31 16:00 UTC is already April 1st in Tokyo.
	ledger := NewSpendingLedger([]models.LedgerEntry{
		entry(t, 700, date(2026, 3, 31, 16, 0)),
	}, tokyo, false)

	assert.Equal(t, int64(700), ledger.CurrentCalendarMonthTotal(date(2026, 4, 10, 0, 0)))
	assert.Equal(t, int64(0), ledger.CurrentCalendarMonthTotal(date(2026, 3, 30, 0, 0)))
}

func TestSpendingLedger_RollingAverageCompletedMonths(t *testing.T) {
	ledger := NewSpendingLedger([]models.LedgerEntry{
		entry(t, 3000, date(2026, 1, 10, 9, 0)),
		entry(t, 6000, date(2026, 3, 5, 9, 0)),
		entry(t, 9000, date(2026, 4, 5, 9, 0)),
	}, time.UTC, false)

	now := date(2026, 4, 20, 0, 0)
	assert.Equal(t, []int64{3000, 0, 6000}, ledger.MonthTotals(now, 3))
	assert.True(t, decimal.NewFromInt(3000).Equal(ledger.RollingAverage(now, 3)))
}

func TestSpendingLedger_RollingAverageIncludingCurrentMonth(t *testing.T) {
	ledger := NewSpendingLedger([]models.LedgerEntry{
		entry(t, 3000, date(2026, 1, 10, 9, 0)),
		entry(t, 6000, date(2026, 3, 5, 9, 0)),
		entry(t, 9000, date(2026, 4, 5, 9, 0)),
	}, time.UTC, true)

	now := date(2026, 4, 20, 0, 0)
	assert.Equal(t, []int64{0, 6000, 9000}, ledger.MonthTotals(now, 3))
	assert.True(t, decimal.NewFromInt(5000).Equal(ledger.RollingAverage(now, 3)))
}

func TestSpendingLedger_AppendLeavesOriginalUntouched(t *testing.T) {
	base := NewSpendingLedger(nil, time.UTC, false)
	next := base.Append(entry(t, 100, date(2026, 3, 1, 10, 0)))

	assert.Equal(t, 0, base.Len())
	assert.Equal(t, 1, next.Len())
	assert.Equal(t, int64(100), next.CurrentCalendarMonthTotal(date(2026, 3, 2, 0, 0)))
}

func TestSpendingLedger_RollingAverageZeroMonths(t *testing.T) {
	ledger := NewSpendingLedger(nil, time.UTC, false)
	assert.True(t, ledger.RollingAverage(date(2026, 3, 1, 0, 0), 0).IsZero())
	assert.Nil(t, ledger.MonthTotals(date(2026, 3, 1, 0, 0), 0))
}

func TestLedgerWindowStart(t *testing.T) {
	got := LedgerWindowStart(date(2026, 1, 15, 8, 0), time.UTC, 3)
	assert.Equal(t, date(2025, 10, 1, 0, 0), got)
}
