package loyalty

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/models"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
)

// txLog records the reads of every transaction, one slice per transaction.
type txLog struct {
	mu  sync.Mutex
	txs [][]string
}

func (l *txLog) begin() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, nil)
	return len(l.txs) - 1
}

func (l *txLog) add(tx int, call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[tx] = append(l.txs[tx], call)
}

func (l *txLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = nil
}

func (l *txLog) transactions() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.txs...)
}

type trackingRepository struct {
	Repository
	log *txLog
}

func (r *trackingRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	id := r.log.begin()
	return r.Repository.Transaction(ctx, func(tx Repository) error {
		return fn(&trackedTx{Repository: tx, log: r.log, id: id})
	})
}

type trackedTx struct {
	Repository
	log *txLog
	id  int
}

func (t *trackedTx) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t *trackedTx) GetCustomer(ctx context.Context, id string, forUpdate bool) (*models.Customer, error) {
	if forUpdate {
		t.log.add(t.id, "lock:"+id)
	} else {
		t.log.add(t.id, "customer:"+id)
	}
	return t.Repository.GetCustomer(ctx, id, forUpdate)
}

func (t *trackedTx) GetCurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	t.log.add(t.id, "subscription:"+customerID)
	return t.Repository.GetCurrentSubscription(ctx, customerID)
}

func (t *trackedTx) GetRedemptionState(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	t.log.add(t.id, "redemption:"+customerID)
	return t.Repository.GetRedemptionState(ctx, customerID)
}

func TestEngine_MutationsLockCustomerRowFirst(t *testing.T) {
	start := date(2026, 8, 1, 9, 0)
	clk := clock.NewManual(start)
	repo := &trackingRepository{Repository: NewMemoryRepository(), log: &txLog{}}
	gateway := &recordingGateway{}
	engine := NewEngine(repo, DefaultPolicy(), WithClock(clk), WithPaymentGateway(gateway))
	ctx := context.Background()

	_, err := engine.EnsureCustomer(ctx, CustomerProfile{ID: "c1", Timezone: "UTC"})
	require.NoError(t, err)
	_, err = engine.ActivateSubscription(ctx, "c1", true)
	require.NoError(t, err)

	steps := []struct {
		name string
		run  func() error
	}{
		{"redeem", func() error {
			_, err := engine.RedeemFreeItem(ctx, "c1", time.Time{})
			return err
		}},
		{"billing tick", func() error {
			clk.Set(start.AddDate(0, 0, 31))
			report, err := engine.RunBillingTick(ctx)
			if err == nil && report.Submitted != 1 {
				return fmt.Errorf("submitted %d charges", report.Submitted)
			}
			return err
		}},
		{"payment result", func() error {
			req := gateway.requests[0]
			_, err := engine.HandlePaymentResult(ctx, PaymentResult{
				CustomerID:     "c1",
				SubscriptionID: req.SubscriptionID,
				BillingDate:    req.BillingDate,
				Success:        true,
			})
			return err
		}},
		{"cancel", func() error {
			_, err := engine.CancelSubscription(ctx, "c1")
			return err
		}},
		{"archive", func() error {
			clk.Set(start.AddDate(0, 0, 61))
			archived, err := engine.ArchiveExpiredSubscriptions(ctx)
			if err == nil && archived != 1 {
				return fmt.Errorf("archived %d subscriptions", archived)
			}
			return err
		}},
	}
	for _, step := range steps {
		repo.log.reset()
		require.NoError(t, step.run(), step.name)

		txs := repo.log.transactions()
		require.NotEmpty(t, txs, step.name)
		for _, calls := range txs {
			require.NotEmpty(t, calls, step.name)
			assert.Equal(t, "lock:c1", calls[0], step.name)
		}
	}
}

func TestEngines_SharingOneDatabaseGrantOneRedemption(t *testing.T) {
	repo := newGormRepository(t)
	ctx := context.Background()
	clk := clock.NewManual(date(2026, 3, 10, 12, 0))
	engines := []*Engine{
		NewEngine(repo, DefaultPolicy(), WithClock(clk)),
		NewEngine(repo, DefaultPolicy(), WithClock(clk)),
	}
	_, err := engines[0].EnsureCustomer(ctx, CustomerProfile{ID: "c1", Timezone: "UTC"})
	require.NoError(t, err)

	var (
		granted atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		engine := engines[i%len(engines)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := engine.RedeemFreeItem(ctx, "c1", time.Time{})
			assert.NoError(t, err)
			if r.Granted() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	state, err := repo.GetRedemptionState(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CountUsedToday)
}

func TestEngines_SharingOneDatabaseKeepCancellation(t *testing.T) {
	repo := newGormRepository(t)
	ctx := context.Background()
	start := date(2026, 8, 1, 9, 0)
	clk := clock.NewManual(start)
	gateway := &recordingGateway{}
	billing := NewEngine(repo, DefaultPolicy(), WithClock(clk), WithPaymentGateway(gateway))
	api := NewEngine(repo, DefaultPolicy(), WithClock(clk))

	_, err := api.EnsureCustomer(ctx, CustomerProfile{ID: "c1", Timezone: "UTC"})
	require.NoError(t, err)
	_, err = api.ActivateSubscription(ctx, "c1", true)
	require.NoError(t, err)

	clk.Set(start.AddDate(0, 0, 31))
	_, err = billing.RunBillingTick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, gateway.count())
	req := gateway.requests[0]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := api.CancelSubscription(ctx, "c1")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := billing.HandlePaymentResult(ctx, PaymentResult{
			CustomerID:     "c1",
			SubscriptionID: req.SubscriptionID,
			BillingDate:    req.BillingDate,
			Success:        true,
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	// Whichever ran first, the cancellation survives.
	sub, err := repo.GetCurrentSubscription(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.NotNil(t, sub.CancelledAt)
}
