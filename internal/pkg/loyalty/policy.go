package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the tunable constants of the loyalty program.
type Policy struct {
	ClubThreshold               int64
	RollingMonths               int
	RollingIncludesCurrentMonth bool
	ClubRate                    decimal.Decimal
	PremiumNonFoodRate          decimal.Decimal
	PremiumFoodRate             decimal.Decimal
	MaxFreeItemsPerDay          int
	RedemptionCooldown          time.Duration
	BillingPeriodDays           int
	PremiumPrice                int64
	DefaultTimezone             string
	BirthdayWindowDays          int
	ConflictRetries             int
	ChargeConcurrency           int
	// ChargeResultTimeout is how long a submitted renewal charge may wait for
	// its result before the next billing tick submits it again. Zero disables
	// resubmission.
	ChargeResultTimeout         time.Duration
}

// DefaultPolicy returns the program's standard settings.
func DefaultPolicy() Policy {
	return Policy{
		ClubThreshold:       5000,
		RollingMonths:       3,
		ClubRate:            decimal.RequireFromString("0.05"),
		PremiumNonFoodRate:  decimal.RequireFromString("0.05"),
		PremiumFoodRate:     decimal.RequireFromString("0.10"),
		MaxFreeItemsPerDay:  3,
		RedemptionCooldown:  3 * time.Hour,
		BillingPeriodDays:   30,
		PremiumPrice:        499,
		DefaultTimezone:     "UTC",
		BirthdayWindowDays:  7,
		ConflictRetries:     5,
		ChargeConcurrency:   4,
		ChargeResultTimeout: time.Hour,
	}
}

// Location resolves DefaultTimezone, falling back to UTC.
func (p Policy) Location() *time.Location {
	if p.DefaultTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// chargeStaleBefore returns the claim time at or before which a pending
// charge counts as lost.
func (p Policy) chargeStaleBefore(now time.Time) time.Time {
	if p.ChargeResultTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(-p.ChargeResultTimeout)
}

func (p Policy) classifier() TierClassifier {
	return TierClassifier{ClubThreshold: p.ClubThreshold, RollingMonths: p.RollingMonths}
}

func (p Policy) rates() DiscountRates {
	return DiscountRates{Club: p.ClubRate, PremiumNonFood: p.PremiumNonFoodRate, PremiumFood: p.PremiumFoodRate}
}

func (p Policy) governor() RedemptionGovernor {
	return RedemptionGovernor{MaxPerDay: p.MaxFreeItemsPerDay, Cooldown: p.RedemptionCooldown}
}
