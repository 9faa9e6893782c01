package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is a customer's premium membership. Cancelled subscriptions are
// kept until EndDate passes, then archived.
type Subscription struct {
	ID                   string     `gorm:"type:char(36);primaryKey" json:"id"`
	CustomerID           string     `gorm:"type:varchar(64);not null;index:idx_subscriptions_customer_archived,priority:1" json:"customer_id"`
	Status               string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_status_billing,priority:1" json:"status"`
	StartDate            time.Time  `gorm:"not null" json:"start_date"`
	EndDate              time.Time  `gorm:"not null" json:"end_date"`
	NextBillingDate      time.Time  `gorm:"not null;index:idx_subscriptions_status_billing,priority:2" json:"next_billing_date"`
	BillingPeriodDays    int        `gorm:"not null;default:30" json:"billing_period_days"`
	AutoRenew            bool       `gorm:"not null" json:"auto_renew"`
	Price                int64      `gorm:"not null;default:0" json:"price"`
	PendingChargeFor     *time.Time `gorm:"default:null" json:"-"`
	PendingChargeAt      *time.Time `gorm:"default:null" json:"-"`
	CancelledAt          *time.Time `gorm:"default:null" json:"cancelled_at,omitempty"`
	LastBillingFailureAt *time.Time `gorm:"default:null" json:"last_billing_failure_at,omitempty"`
	ArchivedAt           *time.Time `gorm:"default:null;index:idx_subscriptions_customer_archived,priority:2" json:"archived_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "loyalty_subscriptions"
}

// BillingPeriod returns the renewal interval.
func (s *Subscription) BillingPeriod() time.Duration {
	return time.Duration(s.BillingPeriodDays) * 24 * time.Hour
}

// NewSubscription starts an active subscription at now. The first billing tick
// falls one period later.
func NewSubscription(customerID string, now time.Time, periodDays int, autoRenew bool, price int64) *Subscription {
	s := &Subscription{
		ID:                uuid.New().String(),
		CustomerID:        customerID,
		Status:            SubscriptionStatusActive,
		StartDate:         now,
		BillingPeriodDays: periodDays,
		AutoRenew:         autoRenew,
		Price:             price,
	}
	s.NextBillingDate = now.Add(s.BillingPeriod())
	s.EndDate = s.NextBillingDate
	return s
}
