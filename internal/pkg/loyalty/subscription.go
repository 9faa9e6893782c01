package loyalty

import (
	"time"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// SubscriptionState is the lifecycle state of a premium subscription as seen
// at a given instant.
type SubscriptionState string

const (
	SubscriptionNone      SubscriptionState = "none"
	SubscriptionActive    SubscriptionState = "active"
	SubscriptionCancelled SubscriptionState = "cancelled"
	SubscriptionExpired   SubscriptionState = "expired"
)

// EffectiveSubscriptionState evaluates the lifecycle lazily from timestamps:
// a cancelled subscription expires once now reaches EndDate, and an active one
// without auto-renew lapses at its next billing date. Auto-renewing
// subscriptions stay active past the billing date until the payment result
// arrives.
func EffectiveSubscriptionState(sub *models.Subscription, now time.Time) SubscriptionState {
	if sub == nil {
		return SubscriptionNone
	}
	if sub.ArchivedAt != nil {
		return SubscriptionExpired
	}
	switch sub.Status {
	case models.SubscriptionStatusActive:
		if !sub.AutoRenew && !now.Before(sub.NextBillingDate) {
			return SubscriptionExpired
		}
		return SubscriptionActive
	case models.SubscriptionStatusCancelled:
		if !now.Before(sub.EndDate) {
			return SubscriptionExpired
		}
		return SubscriptionCancelled
	default:
		return SubscriptionExpired
	}
}

// SubscriptionEntitles reports whether the subscription still grants premium
// benefits at now.
func SubscriptionEntitles(sub *models.Subscription, now time.Time) bool {
	switch EffectiveSubscriptionState(sub, now) {
	case SubscriptionActive, SubscriptionCancelled:
		return true
	default:
		return false
	}
}

// cancelSubscription moves an active subscription to cancelled. EndDate keeps
// the billing boundary in effect so benefits last until it. Returns false when
// nothing changed.
func cancelSubscription(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionStatusActive {
		return false
	}
	sub.Status = models.SubscriptionStatusCancelled
	sub.AutoRenew = false
	sub.EndDate = sub.NextBillingDate
	sub.CancelledAt = &now
	clearPendingCharge(sub)
	return true
}

// renewSubscription advances an active auto-renewing subscription by one
// billing period after a successful charge.
func renewSubscription(sub *models.Subscription) bool {
	if sub.Status != models.SubscriptionStatusActive || !sub.AutoRenew {
		return false
	}
	sub.NextBillingDate = sub.NextBillingDate.Add(sub.BillingPeriod())
	sub.EndDate = sub.NextBillingDate
	clearPendingCharge(sub)
	return true
}

// failSubscriptionBilling cancels an active subscription whose renewal charge
// failed. There is no grace period: benefits end at the failed boundary.
func failSubscriptionBilling(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionStatusActive {
		return false
	}
	sub.Status = models.SubscriptionStatusCancelled
	sub.AutoRenew = false
	sub.EndDate = sub.NextBillingDate
	sub.CancelledAt = &now
	sub.LastBillingFailureAt = &now
	clearPendingCharge(sub)
	return true
}

// archiveSubscription marks a lapsed subscription expired and archived.
func archiveSubscription(sub *models.Subscription, now time.Time) bool {
	if sub.ArchivedAt != nil || EffectiveSubscriptionState(sub, now) != SubscriptionExpired {
		return false
	}
	if sub.Status == models.SubscriptionStatusActive {
		sub.EndDate = sub.NextBillingDate
	}
	sub.Status = models.SubscriptionStatusExpired
	sub.ArchivedAt = &now
	clearPendingCharge(sub)
	return true
}

// clearPendingCharge drops the claim on a submitted renewal charge.
func clearPendingCharge(sub *models.Subscription) {
	sub.PendingChargeFor = nil
	sub.PendingChargeAt = nil
}

// chargeClaimable reports whether a renewal charge may be submitted for the
// current billing date. A claim made at or before staleBefore never got a
// result and may be submitted again.
func chargeClaimable(sub *models.Subscription, staleBefore time.Time) bool {
	if sub.PendingChargeFor == nil {
		return true
	}
	if !sub.PendingChargeFor.Equal(sub.NextBillingDate) || sub.PendingChargeAt == nil {
		return true
	}
	return !sub.PendingChargeAt.After(staleBefore)
}

// SubscriptionView is the externally visible shape of a subscription.
type SubscriptionView struct {
	ID              string            `json:"id"`
	State           SubscriptionState `json:"state"`
	StartDate       time.Time         `json:"start_date"`
	EndDate         time.Time         `json:"end_date"`
	NextBillingDate *time.Time        `json:"next_billing_date,omitempty"`
	AutoRenew       bool              `json:"auto_renew"`
	Price           int64             `json:"price"`
}

func newSubscriptionView(sub *models.Subscription, now time.Time) *SubscriptionView {
	if sub == nil {
		return nil
	}
	v := &SubscriptionView{
		ID:        sub.ID,
		State:     EffectiveSubscriptionState(sub, now),
		StartDate: sub.StartDate,
		EndDate:   sub.EndDate,
		AutoRenew: sub.AutoRenew,
		Price:     sub.Price,
	}
	if v.State == SubscriptionActive {
		next := sub.NextBillingDate
		v.NextBillingDate = &next
	}
	return v
}
