package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

type resultSink struct {
	mu      sync.Mutex
	results []loyalty.PaymentResult
}

func (s *resultSink) handle(_ context.Context, r loyalty.PaymentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *resultSink) all() []loyalty.PaymentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loyalty.PaymentResult(nil), s.results...)
}

func request(customerID string) loyalty.ChargeRequest {
	billing := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return loyalty.ChargeRequest{
		CustomerID:     customerID,
		SubscriptionID: "sub-" + customerID,
		BillingDate:    billing,
		Amount:         499,
		IdempotencyKey: "sub-" + customerID + ":1788253200",
	}
}

func TestSimulatedGateway_ReportsResults(t *testing.T) {
	sink := &resultSink{}
	g := NewSimulatedGateway(SimulatedConfig{Delay: 50 * time.Millisecond, FailingCustomers: []string{" bad "}}, sink.handle)

	require.NoError(t, g.Charge(context.Background(), request("good")))
	require.NoError(t, g.Charge(context.Background(), request("bad")))
	// Same idempotency key while the result is pending: accepted, no second result.
	require.NoError(t, g.Charge(context.Background(), request("good")))
	g.Close()

	results := sink.all()
	require.Len(t, results, 2)
	byCustomer := map[string]loyalty.PaymentResult{}
	for _, r := range results {
		byCustomer[r.CustomerID] = r
	}
	assert.True(t, byCustomer["good"].Success)
	assert.False(t, byCustomer["bad"].Success)
	assert.Equal(t, "card declined", byCustomer["bad"].Reason)
	assert.Equal(t, "sub-good", byCustomer["good"].SubscriptionID)

	assert.ErrorIs(t, g.Charge(context.Background(), request("late")), ErrClosed)
}

func TestSimulatedGateway_RepeatsDeliveredResult(t *testing.T) {
	sink := &resultSink{}
	g := NewSimulatedGateway(SimulatedConfig{FailingCustomers: []string{"bad"}}, sink.handle)
	defer g.Close()

	require.NoError(t, g.Charge(context.Background(), request("bad")))
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Charge(context.Background(), request("bad")))
	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)

	results := sink.all()
	assert.Equal(t, results[0], results[1])
	assert.False(t, results[1].Success)
}

func TestSimulatedGateway_DrivesEngineRenewal(t *testing.T) {
	start := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	g := NewSimulatedGateway(SimulatedConfig{Delay: time.Millisecond}, nil)
	engine := loyalty.NewEngine(loyalty.NewMemoryRepository(), loyalty.DefaultPolicy(),
		loyalty.WithClock(clk),
		loyalty.WithPaymentGateway(g),
	)

	var (
		mu       sync.Mutex
		outcomes []loyalty.BillingOutcome
	)
	g.OnResult(func(ctx context.Context, r loyalty.PaymentResult) {
		outcome, err := engine.HandlePaymentResult(ctx, r)
		assert.NoError(t, err)
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	})

	ctx := context.Background()
	_, err := engine.EnsureCustomer(ctx, loyalty.CustomerProfile{ID: "c1", Timezone: "UTC"})
	require.NoError(t, err)
	_, err = engine.ActivateSubscription(ctx, "c1", true)
	require.NoError(t, err)

	clk.Set(start.AddDate(0, 0, 30))
	report, err := engine.RunBillingTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	g.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Renewed)
	assert.Equal(t, start.AddDate(0, 0, 60), *outcomes[0].Subscription.NextBillingDate)
}
