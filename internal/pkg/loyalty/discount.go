package loyalty

import "github.com/shopspring/decimal"

// DiscountRates are the per-tier discount fractions.
type DiscountRates struct {
	Club           decimal.Decimal
	PremiumNonFood decimal.Decimal
	PremiumFood    decimal.Decimal
}

// Discount computes the discount for an order. Callers guarantee
// 0 <= foodTotal <= orderTotal. Premium applies the non-food rate to the
// non-food part and the food rate to the food part; the combined amount is
// rounded once, half-up, to the smallest currency unit.
func (r DiscountRates) Discount(tier Tier, orderTotal, foodTotal int64) int64 {
	var amount decimal.Decimal
	switch tier {
	case TierClub:
		amount = decimalFromInt(orderTotal).Mul(r.Club)
	case TierPremium:
		nonFood := decimalFromInt(orderTotal - foodTotal).Mul(r.PremiumNonFood)
		food := decimalFromInt(foodTotal).Mul(r.PremiumFood)
		amount = nonFood.Add(food)
	default:
		return 0
	}
	return roundHalfUp(amount)
}

// roundHalfUp rounds to an integer. decimal.Round rounds half away from zero,
// which equals half-up for the non-negative amounts used here.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
