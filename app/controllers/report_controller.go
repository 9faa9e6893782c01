package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/BeanCounter/app/repository"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
)

const reportDateLayout = "2006-01-02"

// ReportController serves program-wide aggregates.
type ReportController struct {
	reports repository.ReportRepository
	clock   clock.Clock
}

func NewReportController(reports repository.ReportRepository, clk clock.Clock) *ReportController {
	if clk == nil {
		clk = clock.Real()
	}
	return &ReportController{reports: reports, clock: clk}
}

// ProgramSummary is the response of HandleSummary.
type ProgramSummary struct {
	From                  time.Time               `json:"from"`
	To                    time.Time               `json:"to"`
	CustomersByTier       map[string]int64        `json:"customers_by_tier"`
	CustomersByStatus     map[string]int64        `json:"customers_by_status"`
	SubscriptionsByStatus map[string]int64        `json:"subscriptions_by_status"`
	Ledger                repository.LedgerTotals `json:"ledger"`
}

// HandleSummary reports customer, subscription and revenue aggregates. The
// ledger range defaults to the current UTC calendar month; from and to are
// inclusive dates as YYYY-MM-DD.
func (rc *ReportController) HandleSummary(c *fiber.Ctx) error {
	now := rc.clock.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	if raw := c.Query("from"); raw != "" {
		d, err := time.Parse(reportDateLayout, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "from must be YYYY-MM-DD"})
		}
		from = d
	}
	if raw := c.Query("to"); raw != "" {
		d, err := time.Parse(reportDateLayout, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "to must be YYYY-MM-DD"})
		}
		to = d.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "to must not be before from"})
	}

	ctx := c.UserContext()
	summary := ProgramSummary{From: from, To: to}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary.CustomersByTier, err = rc.reports.CountCustomersByTier(gctx)
		return err
	})
	g.Go(func() (err error) {
		summary.CustomersByStatus, err = rc.reports.CountCustomersByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		summary.SubscriptionsByStatus, err = rc.reports.CountSubscriptionsByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		summary.Ledger, err = rc.reports.SumLedger(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Errorf("[API] Failed to build program summary: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load report"})
	}
	return c.JSON(summary)
}
