package loyalty

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// Repository provides the persistence operations used by the engine.
// Ledger entries are append-only: there is no update or delete for them.
type Repository interface {
	// Transaction runs fn against a repository bound to one unit of work. Either
	// all writes made through tx are applied or none are.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// GetCustomer returns ErrCustomerNotFound for unknown ids. forUpdate locks
	// the row until the surrounding transaction ends.
	GetCustomer(ctx context.Context, id string, forUpdate bool) (*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	SaveCustomer(ctx context.Context, c *models.Customer) error
	ListActiveCustomers(ctx context.Context, offset, limit int) ([]models.Customer, error)

	AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, customerID string, since time.Time) ([]models.LedgerEntry, error)

	// GetCurrentSubscription returns the customer's non-archived subscription or
	// ErrNoSubscription.
	GetCurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	// ListDueSubscriptions returns active auto-renewing subscriptions whose
	// billing date has passed and whose charge was not yet submitted, or was
	// submitted at or before staleBefore without a result.
	ListDueSubscriptions(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Subscription, error)
	ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)

	// GetRedemptionState returns a zero state for customers that never redeemed.
	GetRedemptionState(ctx context.Context, customerID string) (*models.RedemptionState, error)
	SaveRedemptionState(ctx context.Context, s *models.RedemptionState) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a loyalty repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AutoMigrate creates or updates the loyalty tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Customer{},
		&models.LedgerEntry{},
		&models.Subscription{},
		&models.RedemptionState{},
	)
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetCustomer(ctx context.Context, id string, forUpdate bool) (*models.Customer, error) {
	q := r.db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var c models.Customer
	if err := q.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) SaveCustomer(ctx context.Context, c *models.Customer) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *gormRepository) ListActiveCustomers(ctx context.Context, offset, limit int) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).
		Where("status = ?", models.CUSTOMER_STATUS_ACTIVE).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&customers).Error
	return customers, err
}

func (r *gormRepository) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *gormRepository) ListLedgerEntries(ctx context.Context, customerID string, since time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND occurred_at >= ?", customerID, since).
		Order("occurred_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) GetCurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND archived_at IS NULL", customerID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) ListDueSubscriptions(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND archived_at IS NULL AND next_billing_date <= ?",
			models.SubscriptionStatusActive, true, now).
		Where(r.db.
			Where("pending_charge_for IS NULL").
			Or("pending_charge_at IS NULL").
			Or("pending_charge_at <= ?", staleBefore)).
		Order("next_billing_date ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("archived_at IS NULL").
		Where(r.db.
			Where("status = ? AND end_date <= ?", models.SubscriptionStatusCancelled, now).
			Or("status = ? AND auto_renew = ? AND next_billing_date <= ?", models.SubscriptionStatusActive, false, now).
			Or("status = ?", models.SubscriptionStatusExpired)).
		Order("end_date ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetRedemptionState(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	var s models.RedemptionState
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.RedemptionState{CustomerID: customerID}, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SaveRedemptionState(ctx context.Context, s *models.RedemptionState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"count_used_today",
			"last_redemption_at",
			"day_key",
			"updated_at",
		}),
	}).Create(s).Error
}
