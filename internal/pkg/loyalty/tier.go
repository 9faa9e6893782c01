package loyalty

import (
	"strings"
	"time"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// Tier is a membership level. It is always derived, never set by callers.
type Tier string

const (
	TierRegular Tier = "regular"
	TierClub    Tier = "club"
	TierPremium Tier = "premium"
)

// ParseTier normalizes a stored tier name; unknown values map to regular.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPremium:
		return TierPremium
	case TierClub:
		return TierClub
	default:
		return TierRegular
	}
}

// TierClassifier derives a tier from spend and subscription state.
type TierClassifier struct {
	ClubThreshold int64
	RollingMonths int
}

// Classify returns the tier for the given inputs:
//   - a subscription that still entitles at now yields premium;
//   - a current month total at or above the threshold yields club;
//   - a previous club tier is kept while the rolling average still clears the
//     threshold, so one weak month does not demote;
//   - everything else is regular.
func (c TierClassifier) Classify(ledger *SpendingLedger, sub *models.Subscription, previous Tier, now time.Time) Tier {
	if SubscriptionEntitles(sub, now) {
		return TierPremium
	}
	if ledger == nil {
		return TierRegular
	}
	threshold := c.ClubThreshold
	if ledger.CurrentCalendarMonthTotal(now) >= threshold {
		return TierClub
	}
	if previous == TierClub && ledger.RollingAverage(now, c.RollingMonths).GreaterThanOrEqual(decimalFromInt(threshold)) {
		return TierClub
	}
	return TierRegular
}
