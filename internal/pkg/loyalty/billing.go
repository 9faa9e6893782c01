package loyalty

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/BeanCounter/app/models"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/metrics/counter"
)

const sweepBatchSize = 500

// ActivateSubscription starts a premium subscription after the initial
// purchase succeeded. A subscription that still grants benefits, even a
// cancelled one, blocks activation with ErrSubscriptionExists.
func (e *Engine) ActivateSubscription(ctx context.Context, customerID string, autoRenew bool) (*SubscriptionView, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	now := e.clock.Now()

	unlock := e.locks.Lock(customerID)
	defer unlock()

	var sub *models.Subscription
	err := e.transact(ctx, func(tx Repository) error {
		c, err := tx.GetCustomer(ctx, customerID, true)
		if err != nil {
			return err
		}
		if !c.IsActive() {
			return ErrCustomerInactive
		}

		current, err := currentSubscriptionOrNil(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if current != nil {
			if SubscriptionEntitles(current, now) {
				return ErrSubscriptionExists
			}
			if archiveSubscription(current, now) {
				if err := tx.SaveSubscription(ctx, current); err != nil {
					return err
				}
			}
		}

		sub = models.NewSubscription(customerID, now, e.policy.BillingPeriodDays, autoRenew, e.policy.PremiumPrice)
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		c.Tier = string(TierPremium)
		c.TierEvaluatedAt = &now
		return tx.SaveCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	counter.AddSubscriptionTransition("activated")
	log.Infof("[Billing] Activated subscription %s for %s (auto-renew %t, next billing %s)",
		sub.ID, customerID, autoRenew, sub.NextBillingDate.Format(time.RFC3339))
	return newSubscriptionView(sub, now), nil
}

// CancelSubscription stops auto-renewal. Premium benefits last until the
// billing boundary in effect at cancellation. Cancelling an already cancelled
// or expired subscription returns its current view unchanged.
func (e *Engine) CancelSubscription(ctx context.Context, customerID string) (*SubscriptionView, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	now := e.clock.Now()

	unlock := e.locks.Lock(customerID)
	defer unlock()

	var (
		sub     *models.Subscription
		changed bool
	)
	err := e.transact(ctx, func(tx Repository) error {
		if err := lockCustomerRow(ctx, tx, customerID); err != nil {
			return err
		}
		var err error
		sub, err = tx.GetCurrentSubscription(ctx, customerID)
		if err != nil {
			return err
		}
		changed = cancelSubscription(sub, now)
		if !changed {
			return nil
		}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		counter.AddSubscriptionTransition("cancelled")
		log.Infof("[Billing] Cancelled subscription %s for %s, benefits until %s",
			sub.ID, customerID, sub.EndDate.Format(time.RFC3339))
	}
	return newSubscriptionView(sub, now), nil
}

// BillingOutcome describes what a payment result did.
type BillingOutcome struct {
	Applied      bool                 `json:"applied"`
	Renewed      bool                 `json:"renewed"`
	Failure      *BillingFailureEvent `json:"failure,omitempty"`
	Subscription *SubscriptionView    `json:"subscription,omitempty"`
}

// HandlePaymentResult applies the payment provider's answer to a renewal
// charge. Results for a subscription or billing date that is no longer
// current are ignored, which makes redelivery harmless. A failure cancels
// the subscription at the failed boundary and is both returned and sent to
// the notifier.
func (e *Engine) HandlePaymentResult(ctx context.Context, result PaymentResult) (BillingOutcome, error) {
	customerID := strings.TrimSpace(result.CustomerID)
	if customerID == "" || strings.TrimSpace(result.SubscriptionID) == "" || result.BillingDate.IsZero() {
		return BillingOutcome{}, fmt.Errorf("%w: customer id, subscription id and billing date are required", ErrInvalidInput)
	}
	now := e.clock.Now()

	unlock := e.locks.Lock(customerID)
	var outcome BillingOutcome
	err := e.transact(ctx, func(tx Repository) error {
		outcome = BillingOutcome{}
		if err := lockCustomerRow(ctx, tx, customerID); err != nil {
			return err
		}
		sub, err := currentSubscriptionOrNil(ctx, tx, customerID)
		if err != nil || sub == nil {
			return err
		}
		outcome.Subscription = newSubscriptionView(sub, now)
		if sub.ID != result.SubscriptionID || sub.NextBillingDate.Unix() != result.BillingDate.Unix() {
			return nil
		}

		billingDate := sub.NextBillingDate
		if result.Success {
			outcome.Renewed = renewSubscription(sub)
			outcome.Applied = outcome.Renewed
		} else if failSubscriptionBilling(sub, now) {
			outcome.Applied = true
			outcome.Failure = &BillingFailureEvent{
				CustomerID:     customerID,
				SubscriptionID: sub.ID,
				BillingDate:    billingDate,
				EndDate:        sub.EndDate,
				Reason:         result.Reason,
				GeneratedAt:    now,
			}
		}
		if !outcome.Applied {
			return nil
		}
		outcome.Subscription = newSubscriptionView(sub, now)
		return tx.SaveSubscription(ctx, sub)
	})
	unlock()
	if err != nil {
		return BillingOutcome{}, err
	}

	switch {
	case outcome.Renewed:
		counter.AddSubscriptionTransition("renewed")
		log.Infof("[Billing] Renewed subscription %s for %s", result.SubscriptionID, customerID)
	case outcome.Failure != nil:
		counter.AddSubscriptionTransition("billing_failed")
		log.Warnf("[Billing] Renewal of subscription %s for %s failed: %s", result.SubscriptionID, customerID, result.Reason)
		e.emit(ctx, *outcome.Failure)
	default:
		log.Infof("[Billing] Ignored stale payment result for subscription %s (billing date %s)",
			result.SubscriptionID, result.BillingDate.Format(time.RFC3339))
	}
	return outcome, nil
}

// BillingTickReport summarizes one billing tick.
type BillingTickReport struct {
	Due         int                   `json:"due"`
	Submitted   int                   `json:"submitted"`
	Resubmitted int                   `json:"resubmitted"`
	Rejected    int                   `json:"rejected"`
	Failures    []BillingFailureEvent `json:"failures,omitempty"`
}

// RunBillingTick submits renewal charges for subscriptions whose billing date
// has passed. Each subscription is claimed for its billing date before the
// gateway is called so repeated ticks never charge twice. Results arrive
// later through HandlePaymentResult. A claim that got no result within
// ChargeResultTimeout is submitted again under the same idempotency key. A
// charge the gateway refuses to accept is handled as a failed payment.
func (e *Engine) RunBillingTick(ctx context.Context) (BillingTickReport, error) {
	if e.gateway == nil {
		return BillingTickReport{}, ErrNoPaymentGateway
	}
	now := e.clock.Now()
	staleBefore := e.policy.chargeStaleBefore(now)

	due, err := e.repo.ListDueSubscriptions(ctx, now, staleBefore, sweepBatchSize)
	if err != nil {
		return BillingTickReport{}, err
	}
	report := BillingTickReport{Due: len(due)}

	claims := make([]ChargeRequest, 0, len(due))
	for _, s := range due {
		claim, err := e.claimCharge(ctx, s.CustomerID, s.ID, now, staleBefore)
		if err != nil {
			log.Errorf("[Billing] Failed to claim subscription %s: %v", s.ID, err)
			continue
		}
		if !claim.ok {
			continue
		}
		if claim.resubmit {
			report.Resubmitted++
			log.Warnf("[Billing] No result for charge %s since %s, submitting again",
				claim.req.IdempotencyKey, claim.previous.Format(time.RFC3339))
		}
		claims = append(claims, claim.req)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	limit := e.policy.ChargeConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, req := range claims {
		req := req
		g.Go(func() error {
			chargeErr := e.gateway.Charge(ctx, req)
			if chargeErr == nil {
				counter.AddChargeSubmission("accepted")
				mu.Lock()
				report.Submitted++
				mu.Unlock()
				return nil
			}

			counter.AddChargeSubmission("rejected")
			log.Warnf("[Billing] Gateway rejected charge %s: %v", req.IdempotencyKey, chargeErr)
			outcome, err := e.HandlePaymentResult(ctx, PaymentResult{
				CustomerID:     req.CustomerID,
				SubscriptionID: req.SubscriptionID,
				BillingDate:    req.BillingDate,
				Success:        false,
				Reason:         chargeErr.Error(),
			})
			mu.Lock()
			defer mu.Unlock()
			report.Rejected++
			if err != nil {
				return err
			}
			if outcome.Failure != nil {
				report.Failures = append(report.Failures, *outcome.Failure)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if report.Due > 0 {
		log.Infof("[Billing] Billing tick: %d due, %d submitted, %d rejected", report.Due, report.Submitted, report.Rejected)
	}
	return report, nil
}

type chargeClaim struct {
	req      ChargeRequest
	ok       bool
	resubmit bool
	previous time.Time
}

// claimCharge marks the subscription's current billing date as submitted at
// now. A stale claim for the same billing date is taken over.
func (e *Engine) claimCharge(ctx context.Context, customerID, subscriptionID string, now, staleBefore time.Time) (chargeClaim, error) {
	unlock := e.locks.Lock(customerID)
	defer unlock()

	var claim chargeClaim
	err := e.transact(ctx, func(tx Repository) error {
		claim = chargeClaim{}
		if err := lockCustomerRow(ctx, tx, customerID); err != nil {
			return err
		}
		sub, err := currentSubscriptionOrNil(ctx, tx, customerID)
		if err != nil || sub == nil {
			return err
		}
		if sub.ID != subscriptionID || sub.Status != models.SubscriptionStatusActive || !sub.AutoRenew {
			return nil
		}
		if sub.NextBillingDate.After(now) || !chargeClaimable(sub, staleBefore) {
			return nil
		}
		billingDate := sub.NextBillingDate
		if sub.PendingChargeFor != nil && sub.PendingChargeFor.Equal(billingDate) {
			claim.resubmit = true
			if sub.PendingChargeAt != nil {
				claim.previous = *sub.PendingChargeAt
			}
		}
		claimedAt := now
		sub.PendingChargeFor = &billingDate
		sub.PendingChargeAt = &claimedAt
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		claim.req = ChargeRequest{
			CustomerID:     customerID,
			SubscriptionID: sub.ID,
			BillingDate:    billingDate,
			Amount:         sub.Price,
			IdempotencyKey: chargeIdempotencyKey(sub.ID, billingDate),
		}
		claim.ok = true
		return nil
	})
	return claim, err
}

// ArchiveExpiredSubscriptions marks lapsed subscriptions expired and archived.
// It only records what EffectiveSubscriptionState already reports, so running
// it late never changes a customer's tier.
func (e *Engine) ArchiveExpiredSubscriptions(ctx context.Context) (int, error) {
	now := e.clock.Now()
	lapsed, err := e.repo.ListLapsedSubscriptions(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, s := range lapsed {
		ok, err := e.archiveOne(ctx, s.CustomerID, s.ID, now)
		if err != nil {
			log.Errorf("[Billing] Failed to archive subscription %s: %v", s.ID, err)
			continue
		}
		if ok {
			archived++
			counter.AddSubscriptionTransition("expired")
		}
	}
	if archived > 0 {
		log.Infof("[Billing] Archived %d expired subscriptions", archived)
	}
	return archived, nil
}

func (e *Engine) archiveOne(ctx context.Context, customerID, subscriptionID string, now time.Time) (bool, error) {
	unlock := e.locks.Lock(customerID)
	defer unlock()

	archived := false
	err := e.transact(ctx, func(tx Repository) error {
		archived = false
		if err := lockCustomerRow(ctx, tx, customerID); err != nil {
			return err
		}
		sub, err := currentSubscriptionOrNil(ctx, tx, customerID)
		if err != nil || sub == nil || sub.ID != subscriptionID {
			return err
		}
		if !archiveSubscription(sub, now) {
			return nil
		}
		archived = true
		return tx.SaveSubscription(ctx, sub)
	})
	return archived, err
}
