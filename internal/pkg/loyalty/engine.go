package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BeanCounter/app/models"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/metrics/counter"
)

// Engine is the loyalty facade used by checkout, the HTTP API and the
// scheduled sweeps. It is safe for concurrent use; operations on the same
// customer are serialized, operations on different customers never contend.
type Engine struct {
	repo        Repository
	policy      Policy
	loc         *time.Location
	clock       clock.Clock
	notifier    Notifier
	gateway     PaymentGateway
	redemptions RedemptionStore
	locks       *keyLock
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithNotifier sets where spending alerts, birthday and billing events go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithPaymentGateway enables billing ticks.
func WithPaymentGateway(g PaymentGateway) Option {
	return func(e *Engine) {
		e.gateway = g
	}
}

// WithRedemptionStore replaces the repository-backed redemption store.
func WithRedemptionStore(s RedemptionStore) Option {
	return func(e *Engine) {
		if s != nil {
			e.redemptions = s
		}
	}
}

// NewEngine creates the loyalty engine on top of repo.
func NewEngine(repo Repository, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		policy:   policy,
		loc:      policy.Location(),
		clock:    clock.Real(),
		notifier: NopNotifier{},
		locks:    newKeyLock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.redemptions == nil {
		e.redemptions = NewRepositoryRedemptionStore(repo)
	}
	return e
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() Policy {
	return e.policy
}

// CustomerProfile carries the signup data of a customer.
type CustomerProfile struct {
	ID         string
	Timezone   string
	BirthMonth int
	BirthDay   int
}

// OrderRecord is the result of recording a completed order.
type OrderRecord struct {
	EntryID         string          `json:"entry_id"`
	Tier            Tier            `json:"tier"`
	PreviousTier    Tier            `json:"previous_tier"`
	DiscountApplied int64           `json:"discount_applied"`
	MonthTotal      int64           `json:"month_total"`
	RollingAverage  decimal.Decimal `json:"rolling_average"`
}

// Quote is the priced view of an order that has not been recorded yet.
type Quote struct {
	CustomerID string `json:"customer_id"`
	Tier       Tier   `json:"tier"`
	OrderTotal int64  `json:"order_total"`
	FoodTotal  int64  `json:"food_total"`
	Discount   int64  `json:"discount"`
	Payable    int64  `json:"payable"`
}

// Status is the loyalty profile of a customer at one instant.
type Status struct {
	CustomerID     string            `json:"customer_id"`
	CustomerStatus string            `json:"status"`
	Timezone       string            `json:"timezone"`
	Tier           Tier              `json:"tier"`
	MonthTotal     int64             `json:"month_total"`
	RollingAverage decimal.Decimal   `json:"rolling_average"`
	ClubThreshold  int64             `json:"club_threshold"`
	Subscription   *SubscriptionView `json:"subscription,omitempty"`
	Redemption     RedemptionView    `json:"redemption"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

// EnsureCustomer creates the customer on signup or updates the profile of an
// existing one. Zero-valued profile fields leave stored values untouched.
func (e *Engine) EnsureCustomer(ctx context.Context, profile CustomerProfile) (*models.Customer, error) {
	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if err := validateBirthday(profile.BirthMonth, profile.BirthDay); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var customer *models.Customer
	err := e.transact(ctx, func(tx Repository) error {
		c, err := tx.GetCustomer(ctx, id, true)
		created := false
		switch {
		case errors.Is(err, ErrCustomerNotFound):
			c = models.NewCustomer(id, e.policy.DefaultTimezone)
			created = true
		case err != nil:
			return err
		case !c.IsActive():
			return ErrCustomerInactive
		}
		if tz := strings.TrimSpace(profile.Timezone); tz != "" {
			c.Timezone = tz
		}
		if profile.BirthMonth > 0 {
			c.BirthMonth = profile.BirthMonth
			c.BirthDay = profile.BirthDay
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if created {
			err = tx.CreateCustomer(ctx, c)
		} else {
			err = tx.SaveCustomer(ctx, c)
		}
		customer = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// DeactivateCustomer marks the customer inactive and stops auto-renewal of a
// running subscription. Benefits already paid for run until EndDate.
// Deactivating twice is a no-op.
func (e *Engine) DeactivateCustomer(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	unlock := e.locks.Lock(customerID)
	defer unlock()

	now := e.clock.Now()
	cancelled := false
	err := e.transact(ctx, func(tx Repository) error {
		cancelled = false
		c, err := tx.GetCustomer(ctx, customerID, true)
		if err != nil {
			return err
		}
		if !c.IsActive() {
			return nil
		}
		c.Status = models.CUSTOMER_STATUS_INACTIVE
		c.DeactivatedAt = &now
		if err := tx.SaveCustomer(ctx, c); err != nil {
			return err
		}
		sub, err := currentSubscriptionOrNil(ctx, tx, customerID)
		if err != nil || sub == nil {
			return err
		}
		if cancelSubscription(sub, now) {
			cancelled = true
			return tx.SaveSubscription(ctx, sub)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled {
		counter.AddSubscriptionTransition("cancelled")
	}
	log.Infof("[Loyalty] Deactivated customer %s", customerID)
	return nil
}

// RecordOrder appends a completed order to the customer's ledger and
// re-derives the tier. Unknown customers are created on their first order.
// DiscountApplied is the discount the order earned under the tier in effect
// before it was recorded.
func (e *Engine) RecordOrder(ctx context.Context, customerID string, amount, foodAmount int64, at time.Time) (OrderRecord, error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateAmounts(customerID, amount, foodAmount); err != nil {
		return OrderRecord{}, err
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	unlock := e.locks.Lock(customerID)
	var (
		record OrderRecord
		alert  *SpendingAlert
	)
	err := e.transact(ctx, func(tx Repository) error {
		record, alert = OrderRecord{}, nil

		c, err := e.customerForOrder(ctx, tx, customerID)
		if err != nil {
			return err
		}
		snap, err := e.snapshot(ctx, tx, c, at)
		if err != nil {
			return err
		}

		classifier := e.policy.classifier()
		previous := ParseTier(c.Tier)
		before := classifier.Classify(snap.ledger, snap.sub, previous, at)

		entry, err := models.NewLedgerEntry(customerID, amount, foodAmount, at)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}

		ledger := snap.ledger.Append(*entry)
		tier := classifier.Classify(ledger, snap.sub, previous, at)
		avg := ledger.RollingAverage(at, e.policy.RollingMonths)

		c.Tier = string(tier)
		c.TierEvaluatedAt = &at
		if err := tx.SaveCustomer(ctx, c); err != nil {
			return err
		}

		record = OrderRecord{
			EntryID:         entry.ID,
			Tier:            tier,
			PreviousTier:    previous,
			DiscountApplied: e.policy.rates().Discount(before, amount, foodAmount),
			MonthTotal:      ledger.CurrentCalendarMonthTotal(at),
			RollingAverage:  avg,
		}

		threshold := decimalFromInt(e.policy.ClubThreshold)
		if previous == TierClub && avg.LessThan(threshold) {
			alert = &SpendingAlert{
				CustomerID:     customerID,
				RollingAverage: avg,
				Shortfall:      threshold.Sub(avg),
				GeneratedAt:    e.clock.Now(),
			}
		}
		return nil
	})
	unlock()
	if err != nil {
		return OrderRecord{}, err
	}

	counter.AddOrder(amount)
	counter.AddTierChange(string(record.PreviousTier), string(record.Tier))
	if record.Tier != record.PreviousTier {
		log.Infof("[Loyalty] Customer %s moved from %s to %s", customerID, record.PreviousTier, record.Tier)
	}
	if alert != nil {
		log.Infof("[Loyalty] Spending alert for %s: rolling average %s, shortfall %s",
			customerID, alert.RollingAverage.StringFixed(2), alert.Shortfall.StringFixed(2))
		e.emit(ctx, *alert)
	}
	return record, nil
}

// PriceOrder returns the discount for an order under the customer's current tier.
func (e *Engine) PriceOrder(ctx context.Context, customerID string, orderTotal, foodTotal int64) (int64, error) {
	q, err := e.QuoteOrder(ctx, customerID, orderTotal, foodTotal)
	if err != nil {
		return 0, err
	}
	return q.Discount, nil
}

// QuoteOrder prices an order without recording it. Unknown and inactive
// customers are priced as regular.
func (e *Engine) QuoteOrder(ctx context.Context, customerID string, orderTotal, foodTotal int64) (Quote, error) {
	customerID = strings.TrimSpace(customerID)
	if err := validateAmounts(customerID, orderTotal, foodTotal); err != nil {
		return Quote{}, err
	}

	now := e.clock.Now()
	tier := TierRegular
	c, err := e.repo.GetCustomer(ctx, customerID, false)
	switch {
	case errors.Is(err, ErrCustomerNotFound):
	case err != nil:
		return Quote{}, err
	case c.IsActive():
		snap, err := e.snapshot(ctx, e.repo, c, now)
		if err != nil {
			return Quote{}, err
		}
		tier = e.policy.classifier().Classify(snap.ledger, snap.sub, ParseTier(c.Tier), now)
	}

	discount := e.policy.rates().Discount(tier, orderTotal, foodTotal)
	return Quote{
		CustomerID: customerID,
		Tier:       tier,
		OrderTotal: orderTotal,
		FoodTotal:  foodTotal,
		Discount:   discount,
		Payable:    orderTotal - discount,
	}, nil
}

// RedeemFreeItem applies the daily cap and cooldown to a free-item request.
// The decision and its state update happen atomically per customer.
func (e *Engine) RedeemFreeItem(ctx context.Context, customerID string, at time.Time) (RedemptionResult, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return RedemptionResult{}, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	c, err := e.repo.GetCustomer(ctx, customerID, false)
	if err != nil {
		return RedemptionResult{}, err
	}
	if !c.IsActive() {
		return RedemptionResult{}, ErrCustomerInactive
	}
	loc := c.Location(e.loc)
	governor := e.policy.governor()

	result, err := e.redemptions.Redeem(ctx, customerID, func(state *models.RedemptionState) RedemptionResult {
		return governor.TryRedeem(state, at, loc)
	})
	if err != nil {
		log.Errorf("[Loyalty] Redemption for %s failed: %v", customerID, err)
		return RedemptionResult{}, err
	}

	counter.AddRedemption(string(result.Outcome))
	log.Debugf("[Loyalty] Redemption for %s: %s (%d used today)", customerID, result.Outcome, result.CountUsedToday)
	return result, nil
}

// GetStatus re-evaluates the tier at the current time and reports it together
// with spend aggregates, subscription and redemption state. A changed tier is
// stored for active customers.
func (e *Engine) GetStatus(ctx context.Context, customerID string) (Status, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Status{}, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	now := e.clock.Now()

	unlock := e.locks.Lock(customerID)
	var (
		status   Status
		previous Tier
		loc      *time.Location
	)
	err := e.transact(ctx, func(tx Repository) error {
		c, err := tx.GetCustomer(ctx, customerID, true)
		if err != nil {
			return err
		}
		snap, err := e.snapshot(ctx, tx, c, now)
		if err != nil {
			return err
		}
		previous = ParseTier(c.Tier)
		tier := e.policy.classifier().Classify(snap.ledger, snap.sub, previous, now)
		loc = snap.loc

		status = Status{
			CustomerID:     c.ID,
			CustomerStatus: c.Status,
			Timezone:       loc.String(),
			Tier:           tier,
			MonthTotal:     snap.ledger.CurrentCalendarMonthTotal(now),
			RollingAverage: snap.ledger.RollingAverage(now, e.policy.RollingMonths),
			ClubThreshold:  e.policy.ClubThreshold,
			Subscription:   newSubscriptionView(snap.sub, now),
			EvaluatedAt:    now,
		}

		if !c.IsActive() || tier == previous {
			return nil
		}
		c.Tier = string(tier)
		c.TierEvaluatedAt = &now
		return tx.SaveCustomer(ctx, c)
	})
	unlock()
	if err != nil {
		return Status{}, err
	}
	counter.AddTierChange(string(previous), string(status.Tier))

	state, err := e.redemptions.Get(ctx, customerID)
	if err != nil {
		return Status{}, err
	}
	status.Redemption = e.policy.governor().View(state, now, loc)
	return status, nil
}

type customerSnapshot struct {
	loc    *time.Location
	ledger *SpendingLedger
	sub    *models.Subscription
}

// snapshot loads what tier classification needs for c at the given instant.
func (e *Engine) snapshot(ctx context.Context, repo Repository, c *models.Customer, at time.Time) (*customerSnapshot, error) {
	loc := c.Location(e.loc)
	entries, err := repo.ListLedgerEntries(ctx, c.ID, LedgerWindowStart(at, loc, e.policy.RollingMonths))
	if err != nil {
		return nil, err
	}
	sub, err := currentSubscriptionOrNil(ctx, repo, c.ID)
	if err != nil {
		return nil, err
	}
	return &customerSnapshot{
		loc:    loc,
		ledger: NewSpendingLedger(entries, loc, e.policy.RollingIncludesCurrentMonth),
		sub:    sub,
	}, nil
}

func (e *Engine) customerForOrder(ctx context.Context, tx Repository, customerID string) (*models.Customer, error) {
	c, err := tx.GetCustomer(ctx, customerID, true)
	if errors.Is(err, ErrCustomerNotFound) {
		c = models.NewCustomer(customerID, e.policy.DefaultTimezone)
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if err := tx.CreateCustomer(ctx, c); err != nil {
			return nil, err
		}
		log.Infof("[Loyalty] Created customer %s on first order", customerID)
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, ErrCustomerInactive
	}
	return c, nil
}

// transact runs fn in a repository transaction and retries it when it
// collides with a concurrent writer.
func (e *Engine) transact(ctx context.Context, fn func(tx Repository) error) error {
	retries := e.policy.ConflictRetries
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		err = e.repo.Transaction(ctx, fn)
		if err == nil || !isConflict(err) {
			return err
		}
		log.Warnf("[Loyalty] Transaction conflict (attempt %d/%d): %v", attempt, retries, err)
	}
	if errors.Is(err, ErrTransientConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientConflict, err)
}

func (e *Engine) emit(ctx context.Context, event Event) {
	counter.AddEvent(event.EventType())
	e.notifier.Notify(ctx, event)
}

func isConflict(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrTransientConflict)
}

// lockCustomerRow takes the customer's row lock for the rest of tx so other
// processes working on the same customer wait. Unknown customers have no row
// to lock.
func lockCustomerRow(ctx context.Context, tx Repository, customerID string) error {
	if _, err := tx.GetCustomer(ctx, customerID, true); err != nil && !errors.Is(err, ErrCustomerNotFound) {
		return err
	}
	return nil
}

func currentSubscriptionOrNil(ctx context.Context, repo Repository, customerID string) (*models.Subscription, error) {
	sub, err := repo.GetCurrentSubscription(ctx, customerID)
	if errors.Is(err, ErrNoSubscription) {
		return nil, nil
	}
	return sub, err
}

func validateAmounts(customerID string, total, food int64) error {
	switch {
	case customerID == "":
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	case total < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	case food < 0:
		return fmt.Errorf("%w: food amount must not be negative", ErrInvalidInput)
	case food > total:
		return fmt.Errorf("%w: food amount %d exceeds amount %d", ErrInvalidInput, food, total)
	}
	return nil
}

func validateBirthday(month, day int) error {
	if month == 0 && day == 0 {
		return nil
	}
	if month < 1 || month > 12 || day < 1 {
		return fmt.Errorf("%w: invalid birthday %d-%d", ErrInvalidInput, month, day)
	}
	// 2000 is a leap year, so Feb 29 passes.
	if d := time.Date(2000, time.Month(month), day, 0, 0, 0, 0, time.UTC); d.Day() != day {
		return fmt.Errorf("%w: invalid birthday %d-%d", ErrInvalidInput, month, day)
	}
	return nil
}
