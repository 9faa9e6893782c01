package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// reportRepository implements the ReportRepository interface
type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new report repository instance
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

type groupCount struct {
	Key   string
	Total int64
}

func (r *reportRepository) countBy(ctx context.Context, model interface{}, column string, scope func(*gorm.DB) *gorm.DB) (map[string]int64, error) {
	var rows []groupCount
	q := r.db.WithContext(ctx).Model(model).Select(column + " AS `key`, COUNT(*) AS total")
	if scope != nil {
		q = scope(q)
	}
	if err := q.Group(column).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Total
	}
	return out, nil
}

// CountCustomersByTier counts active customers per stored tier
func (r *reportRepository) CountCustomersByTier(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, &models.Customer{}, "tier", func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ?", models.CUSTOMER_STATUS_ACTIVE)
	})
}

// CountCustomersByStatus counts customers per lifecycle status
func (r *reportRepository) CountCustomersByStatus(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, &models.Customer{}, "status", nil)
}

// CountSubscriptionsByStatus counts subscriptions that are not archived yet
func (r *reportRepository) CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, &models.Subscription{}, "status", func(q *gorm.DB) *gorm.DB {
		return q.Where("archived_at IS NULL")
	})
}

// SumLedger totals the orders recorded in [from, to)
func (r *reportRepository) SumLedger(ctx context.Context, from, to time.Time) (LedgerTotals, error) {
	var totals LedgerTotals
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("COUNT(*) AS orders, COALESCE(SUM(amount), 0) AS revenue, "+
			"COALESCE(SUM(food_amount), 0) AS food_revenue, COUNT(DISTINCT customer_id) AS customers").
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Scan(&totals).Error
	return totals, err
}
