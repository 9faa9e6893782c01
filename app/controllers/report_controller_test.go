package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/repository"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
)

type stubReports struct {
	from, to time.Time
	err      error
}

func (s *stubReports) CountCustomersByTier(context.Context) (map[string]int64, error) {
	return map[string]int64{"club": 2, "regular": 5}, nil
}

func (s *stubReports) CountCustomersByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{"active": 7}, nil
}

func (s *stubReports) CountSubscriptionsByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{"active": 1}, s.err
}

func (s *stubReports) SumLedger(_ context.Context, from, to time.Time) (repository.LedgerTotals, error) {
	s.from, s.to = from, to
	return repository.LedgerTotals{Orders: 4, Revenue: 1800}, nil
}

func newReportApp(reports repository.ReportRepository) *fiber.App {
	clk := clock.NewManual(time.Date(2026, 7, 19, 15, 0, 0, 0, time.UTC))
	rc := NewReportController(reports, clk)
	app := fiber.New()
	app.Get("/reports/summary", rc.HandleSummary)
	return app
}

func TestReportSummary_DefaultsToCurrentMonth(t *testing.T) {
	reports := &stubReports{}
	app := newReportApp(reports)

	resp, err := app.Test(httptest.NewRequest("GET", "/reports/summary", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var summary ProgramSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(5), summary.CustomersByTier["regular"])
	assert.Equal(t, int64(1800), summary.Ledger.Revenue)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), reports.from)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), reports.to)
}

func TestReportSummary_Range(t *testing.T) {
	reports := &stubReports{}
	app := newReportApp(reports)

	resp, err := app.Test(httptest.NewRequest("GET", "/reports/summary?from=2026-01-01&to=2026-01-31", nil))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), reports.to)

	for _, query := range []string{"from=yesterday", "to=2026-13-01", "from=2026-02-01&to=2026-01-01"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/reports/summary?"+query, nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestReportSummary_RepositoryError(t *testing.T) {
	app := newReportApp(&stubReports{err: errors.New("db down")})
	resp, err := app.Test(httptest.NewRequest("GET", "/reports/summary", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
