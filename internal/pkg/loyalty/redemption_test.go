package loyalty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

func TestRedemptionGovernor_CooldownBoundary(t *testing.T) {
	g := DefaultPolicy().governor()
	first := date(2026, 6, 1, 8, 0)
	state := &models.RedemptionState{CustomerID: "c1"}

	require.True(t, g.TryRedeem(state, first, time.UTC).Granted())

	early := g.TryRedeem(state, first.Add(3*time.Hour-time.Millisecond), time.UTC)
	assert.Equal(t, RedemptionDeniedCooldown, early.Outcome)
	require.NotNil(t, early.NextAvailableAt)
	assert.Equal(t, first.Add(3*time.Hour), *early.NextAvailableAt)
	assert.Equal(t, 1, state.CountUsedToday)

	exact := g.TryRedeem(state, first.Add(3*time.Hour), time.UTC)
	assert.Equal(t, RedemptionGranted, exact.Outcome)
	assert.Equal(t, 2, exact.CountUsedToday)
	assert.Equal(t, 1, exact.Remaining)
}

func TestRedemptionGovernor_ThreePerDay(t *testing.T) {
	g := DefaultPolicy().governor()
	state := &models.RedemptionState{CustomerID: "c1"}

	for i, hour := range []int{8, 11, 14} {
		r := g.TryRedeem(state, date(2026, 6, 1, hour, 0), time.UTC)
		require.True(t, r.Granted(), "redemption %d", i+1)
	}

	fourth := g.TryRedeem(state, date(2026, 6, 1, 17, 30), time.UTC)
	assert.Equal(t, RedemptionDeniedDailyLimit, fourth.Outcome)
	assert.Equal(t, 3, fourth.CountUsedToday)
	assert.Equal(t, 0, fourth.Remaining)
	require.NotNil(t, fourth.NextAvailableAt)
	assert.Equal(t, date(2026, 6, 2, 0, 0), *fourth.NextAvailableAt)

	// The daily limit is checked before the cooldown.
	inCooldown := g.TryRedeem(state, date(2026, 6, 1, 15, 0), time.UTC)
	assert.Equal(t, RedemptionDeniedDailyLimit, inCooldown.Outcome)
}

func TestRedemptionGovernor_DailyLimitWaitsForCooldownAfterMidnight(t *testing.T) {
	g := DefaultPolicy().governor()
	last := date(2026, 6, 1, 22, 30)
	state := &models.RedemptionState{CustomerID: "c1", CountUsedToday: 3, DayKey: "2026-06-01", LastRedemptionAt: &last}

	r := g.TryRedeem(state, date(2026, 6, 1, 23, 0), time.UTC)
	assert.Equal(t, RedemptionDeniedDailyLimit, r.Outcome)
	require.NotNil(t, r.NextAvailableAt)
	assert.Equal(t, last.Add(3*time.Hour), *r.NextAvailableAt)
}

func TestRedemptionGovernor_LazyRolloverAtLocalMidnight(t *testing.T) {
	g := DefaultPolicy().governor()
	ny := mustLocation(t, "America/New_York")
	last := time.Date(2026, 6, 1, 21, 0, 0, 0, ny)
	state := &models.RedemptionState{
		CustomerID:       "c1",
		CountUsedToday:   3,
		DayKey:           "2026-06-01",
		LastRedemptionAt: &last,
	}

	before := g.TryRedeem(state, time.Date(2026, 6, 1, 23, 59, 59, 0, ny), ny)
	assert.Equal(t, RedemptionDeniedDailyLimit, before.Outcome)

	midnight := time.Date(2026, 6, 2, 0, 0, 0, 0, ny)
	r := g.TryRedeem(state, midnight, ny)
	assert.Equal(t, RedemptionGranted, r.Outcome)
	assert.Equal(t, 1, r.CountUsedToday)
	assert.Equal(t, "2026-06-02", state.DayKey)
}

func TestRedemptionGovernor_DayKeyFollowsTimezone(t *testing.T) {
	tokyo := mustLocation(t, "Asia/Tokyo")
	at := date(2026, 6, 1, 20, 0)

	assert.Equal(t, "2026-06-01", DayKey(at, time.UTC))
	assert.Equal(t, "2026-06-02", DayKey(at, tokyo))
}

func TestRedemptionGovernor_ViewDoesNotMutate(t *testing.T) {
	g := DefaultPolicy().governor()
	last := date(2026, 6, 1, 10, 0)
	state := &models.RedemptionState{CustomerID: "c1", CountUsedToday: 2, DayKey: "2026-06-01", LastRedemptionAt: &last}

	view := g.View(state, date(2026, 6, 1, 11, 0), time.UTC)
	assert.Equal(t, 2, view.CountUsedToday)
	assert.Equal(t, 1, view.Remaining)
	require.NotNil(t, view.CooldownUntil)
	assert.Equal(t, date(2026, 6, 1, 13, 0), *view.CooldownUntil)

	nextDay := g.View(state, date(2026, 6, 2, 11, 0), time.UTC)
	assert.Equal(t, 0, nextDay.CountUsedToday)
	assert.Equal(t, 3, nextDay.Remaining)
	assert.Nil(t, nextDay.CooldownUntil)

	assert.Equal(t, 2, state.CountUsedToday)
	assert.Equal(t, "2026-06-01", state.DayKey)

	empty := g.View(nil, date(2026, 6, 2, 11, 0), time.UTC)
	assert.Equal(t, 3, empty.Remaining)
}
