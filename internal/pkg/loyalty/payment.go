package loyalty

import (
	"context"
	"fmt"
	"time"
)

// ChargeRequest asks the payment provider to collect one renewal.
type ChargeRequest struct {
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id"`
	BillingDate    time.Time `json:"billing_date"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// PaymentResult is the provider's asynchronous answer to a ChargeRequest.
type PaymentResult struct {
	CustomerID     string    `json:"customer_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	BillingDate    time.Time `json:"billing_date" validate:"required"`
	Success        bool      `json:"success"`
	Reason         string    `json:"reason,omitempty"`
}

// PaymentGateway submits charges. Charge only reports whether the request was
// accepted; the outcome is delivered later through Engine.HandlePaymentResult.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

func chargeIdempotencyKey(subscriptionID string, billingDate time.Time) string {
	return fmt.Sprintf("%s:%d", subscriptionID, billingDate.Unix())
}
