package loyalty

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventSpendingAlert  = "spending_alert"
	EventBirthdayWindow = "birthday_window"
	EventBillingFailure = "billing_failure"
)

// Event is something the engine decided a customer should hear about.
// Delivery is up to the Notifier.
type Event interface {
	EventType() string
	Customer() string
}

// Notifier delivers events fire-and-forget. Delivery failures and
// de-duplication are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// SpendingAlert warns a club member that the rolling average dropped below
// the club threshold.
type SpendingAlert struct {
	CustomerID     string          `json:"customer_id"`
	RollingAverage decimal.Decimal `json:"rolling_average"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

func (SpendingAlert) EventType() string { return EventSpendingAlert }
func (a SpendingAlert) Customer() string { return a.CustomerID }

// BirthdayWindowEvent fires once a year when a customer's birthday window opens.
type BirthdayWindowEvent struct {
	CustomerID  string    `json:"customer_id"`
	BirthMonth  int       `json:"birth_month"`
	BirthDay    int       `json:"birth_day"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (BirthdayWindowEvent) EventType() string { return EventBirthdayWindow }
func (e BirthdayWindowEvent) Customer() string { return e.CustomerID }

// BillingFailureEvent reports a failed renewal charge and the resulting
// cancellation.
type BillingFailureEvent struct {
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id"`
	BillingDate    time.Time `json:"billing_date"`
	EndDate        time.Time `json:"end_date"`
	Reason         string    `json:"reason,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

func (BillingFailureEvent) EventType() string { return EventBillingFailure }
func (e BillingFailureEvent) Customer() string { return e.CustomerID }
