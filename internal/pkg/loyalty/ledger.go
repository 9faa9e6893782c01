package loyalty

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// SpendingLedger is a read view over a customer's ledger entries. Aggregates
// are computed on every call from the entries; nothing is cached.
type SpendingLedger struct {
	entries        []models.LedgerEntry
	loc            *time.Location
	includeCurrent bool
}

// NewSpendingLedger wraps entries for aggregation in the customer's timezone.
// When includeCurrent is set, RollingAverage counts the in-progress month as
// the last month of its window; otherwise the window is the trailing completed
// months.
func NewSpendingLedger(entries []models.LedgerEntry, loc *time.Location, includeCurrent bool) *SpendingLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &SpendingLedger{entries: entries, loc: loc, includeCurrent: includeCurrent}
}

// Append returns a new ledger view that also contains e.
func (l *SpendingLedger) Append(e models.LedgerEntry) *SpendingLedger {
	entries := make([]models.LedgerEntry, 0, len(l.entries)+1)
	entries = append(entries, l.entries...)
	entries = append(entries, e)
	return &SpendingLedger{entries: entries, loc: l.loc, includeCurrent: l.includeCurrent}
}

// Len returns the number of entries in view.
func (l *SpendingLedger) Len() int {
	return len(l.entries)
}

// CurrentCalendarMonthTotal sums the entries of the local calendar month containing now.
func (l *SpendingLedger) CurrentCalendarMonthTotal(now time.Time) int64 {
	start := monthStart(now, l.loc)
	return l.totalBetween(start, start.AddDate(0, 1, 0))
}

// MonthTotals returns the totals of the months in the rolling window ending at
// now, oldest first.
func (l *SpendingLedger) MonthTotals(now time.Time, months int) []int64 {
	if months <= 0 {
		return nil
	}
	end := monthStart(now, l.loc)
	if l.includeCurrent {
		end = end.AddDate(0, 1, 0)
	}
	totals := make([]int64, 0, months)
	for i := months; i > 0; i-- {
		from := end.AddDate(0, -i, 0)
		totals = append(totals, l.totalBetween(from, from.AddDate(0, 1, 0)))
	}
	return totals
}

// RollingAverage is the mean of the trailing months' totals. Months without
// orders count as zero. By default the window holds completed months only;
// the in-progress month joins it when the ledger was built with includeCurrent.
func (l *SpendingLedger) RollingAverage(now time.Time, months int) decimal.Decimal {
	if months <= 0 {
		return decimal.Zero
	}
	var sum int64
	for _, total := range l.MonthTotals(now, months) {
		sum += total
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(months)))
}

func (l *SpendingLedger) totalBetween(from, to time.Time) int64 {
	var total int64
	for _, e := range l.entries {
		if !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			total += e.Amount
		}
	}
	return total
}

// LedgerWindowStart returns the earliest instant any aggregate at now can read.
// Repositories use it to bound the entries they load.
func LedgerWindowStart(now time.Time, loc *time.Location, months int) time.Time {
	if months < 1 {
		months = 1
	}
	return monthStart(now, loc).AddDate(0, -months, 0)
}

func monthStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}
