package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

func newRedisStore(t *testing.T) (*RedisRedemptionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRedemptionStore(client, 5), mr
}

func TestRedisRedemptionStore_PersistsGrantedOnly(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	g := DefaultPolicy().governor()
	at := date(2026, 6, 1, 9, 0)

	r, err := store.Redeem(ctx, "c1", func(s *models.RedemptionState) RedemptionResult {
		return g.TryRedeem(s, at, time.UTC)
	})
	require.NoError(t, err)
	assert.True(t, r.Granted())
	assert.True(t, mr.Exists(RedemptionKeyPrefix+"c1"))
	assert.Equal(t, RedemptionKeyTTL, mr.TTL(RedemptionKeyPrefix+"c1"))

	r, err = store.Redeem(ctx, "c1", func(s *models.RedemptionState) RedemptionResult {
		return g.TryRedeem(s, at.Add(time.Hour), time.UTC)
	})
	require.NoError(t, err)
	assert.Equal(t, RedemptionDeniedCooldown, r.Outcome)

	state, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CountUsedToday)
	assert.Equal(t, "2026-06-01", state.DayKey)
	require.NotNil(t, state.LastRedemptionAt)
	assert.True(t, at.Equal(*state.LastRedemptionAt))
}

func TestRedisRedemptionStore_GetUnknownCustomer(t *testing.T) {
	store, _ := newRedisStore(t)

	state, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", state.CustomerID)
	assert.Equal(t, 0, state.CountUsedToday)
	assert.Nil(t, state.LastRedemptionAt)
}

func TestRedisRedemptionStore_CorruptState(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.HSet(RedemptionKeyPrefix+"c1", fieldCount, "many")

	_, err := store.Get(context.Background(), "c1")
	assert.Error(t, err)
}

func TestEngine_ConcurrentRedemptionWithRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	now := date(2026, 6, 1, 15, 0)
	te := newTestEngine(t, now)
	te.Engine = NewEngine(te.repo, DefaultPolicy(), WithClock(te.clock), WithRedemptionStore(store))
	te.mustEnsure(t, "c1", "UTC")

	// Two earlier redemptions today, the last one outside the cooldown.
	g := DefaultPolicy().governor()
	for _, at := range []time.Time{now.Add(-7 * time.Hour), now.Add(-4 * time.Hour)} {
		_, err := store.Redeem(context.Background(), "c1", func(s *models.RedemptionState) RedemptionResult {
			return g.TryRedeem(s, at, time.UTC)
		})
		require.NoError(t, err)
	}

	results := runConcurrentRedemptions(t, te.Engine, "c1", now, 10)
	assertExactlyOneGranted(t, results)

	state, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.CountUsedToday)
}
