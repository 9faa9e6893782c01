package loyalty

import (
	"time"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// RedemptionOutcome is the decision for a free-item request. Denials are
// expected results, not errors.
type RedemptionOutcome string

const (
	RedemptionGranted          RedemptionOutcome = "granted"
	RedemptionDeniedDailyLimit RedemptionOutcome = "denied_daily_limit"
	RedemptionDeniedCooldown   RedemptionOutcome = "denied_cooldown"
)

const dayKeyLayout = "2006-01-02"

// RedemptionResult is returned by every redemption attempt.
type RedemptionResult struct {
	Outcome         RedemptionOutcome `json:"outcome"`
	CountUsedToday  int               `json:"count_used_today"`
	Remaining       int               `json:"remaining"`
	NextAvailableAt *time.Time        `json:"next_available_at,omitempty"`
}

// Granted reports whether the free item was handed out.
func (r RedemptionResult) Granted() bool {
	return r.Outcome == RedemptionGranted
}

// RedemptionGovernor enforces the daily cap and the cooldown window.
type RedemptionGovernor struct {
	MaxPerDay int
	Cooldown  time.Duration
}

// DayKey returns the local calendar date of now in loc.
func DayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(dayKeyLayout)
}

// TryRedeem decides a redemption and, when granted, updates state in place.
// A state from an earlier day is reset first; there is no scheduled reset.
// Callers must run it inside a per-customer atomic section.
func (g RedemptionGovernor) TryRedeem(state *models.RedemptionState, now time.Time, loc *time.Location) RedemptionResult {
	g.rollover(state, now, loc)

	if state.CountUsedToday >= g.MaxPerDay {
		next := nextDayStart(now, loc)
		if cooldownEnd := g.cooldownEnd(state); cooldownEnd != nil && cooldownEnd.After(next) {
			next = *cooldownEnd
		}
		return RedemptionResult{
			Outcome:         RedemptionDeniedDailyLimit,
			CountUsedToday:  state.CountUsedToday,
			NextAvailableAt: &next,
		}
	}

	if end := g.cooldownEnd(state); end != nil && now.Before(*end) {
		return RedemptionResult{
			Outcome:         RedemptionDeniedCooldown,
			CountUsedToday:  state.CountUsedToday,
			Remaining:       g.MaxPerDay - state.CountUsedToday,
			NextAvailableAt: end,
		}
	}

	state.CountUsedToday++
	redeemedAt := now
	state.LastRedemptionAt = &redeemedAt
	return RedemptionResult{
		Outcome:        RedemptionGranted,
		CountUsedToday: state.CountUsedToday,
		Remaining:      g.MaxPerDay - state.CountUsedToday,
	}
}

// View reports the state as it would be seen at now without modifying it.
func (g RedemptionGovernor) View(state *models.RedemptionState, now time.Time, loc *time.Location) RedemptionView {
	s := models.RedemptionState{}
	if state != nil {
		s = *state
	}
	g.rollover(&s, now, loc)
	v := RedemptionView{
		DayKey:           s.DayKey,
		CountUsedToday:   s.CountUsedToday,
		Remaining:        g.MaxPerDay - s.CountUsedToday,
		LastRedemptionAt: s.LastRedemptionAt,
	}
	if v.Remaining < 0 {
		v.Remaining = 0
	}
	if end := g.cooldownEnd(&s); end != nil && now.Before(*end) {
		v.CooldownUntil = end
	}
	return v
}

func (g RedemptionGovernor) rollover(state *models.RedemptionState, now time.Time, loc *time.Location) {
	today := DayKey(now, loc)
	if state.DayKey != today {
		state.DayKey = today
		state.CountUsedToday = 0
	}
}

func (g RedemptionGovernor) cooldownEnd(state *models.RedemptionState) *time.Time {
	if state.LastRedemptionAt == nil {
		return nil
	}
	end := state.LastRedemptionAt.Add(g.Cooldown)
	return &end
}

func nextDayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// RedemptionView is the read-only redemption status shown to customers.
type RedemptionView struct {
	DayKey           string     `json:"day_key"`
	CountUsedToday   int        `json:"count_used_today"`
	Remaining        int        `json:"remaining"`
	LastRedemptionAt *time.Time `json:"last_redemption_at,omitempty"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`
}
