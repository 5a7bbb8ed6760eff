package policy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeTier charges Fee for any principal up to and including UpTo.
type FeeTier struct {
	Name string
	UpTo decimal.Decimal
	Fee  decimal.Decimal
}

// FeeSchedule maps a loan principal to the platform fee charged to the lender.
// Tiers are evaluated in order; the first inclusive upper bound that covers
// the principal wins and Ceiling applies above the last tier.
type FeeSchedule struct {
	Tiers   []FeeTier
	Ceiling decimal.Decimal
}

// DefaultFeeSchedule returns the platform's published fee tiers.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Tiers: []FeeTier{
			{Name: "micro", UpTo: decimal.NewFromInt(20_000), Fee: decimal.NewFromInt(100)},
			{Name: "small", UpTo: decimal.NewFromInt(50_000), Fee: decimal.NewFromInt(200)},
			{Name: "medium", UpTo: decimal.NewFromInt(100_000), Fee: decimal.NewFromInt(500)},
			{Name: "large", UpTo: decimal.NewFromInt(200_000), Fee: decimal.NewFromInt(1_000)},
		},
		Ceiling: decimal.NewFromInt(1_500),
	}
}

// PlatformFee returns the fee for a principal. It never fails.
func (s FeeSchedule) PlatformFee(principal decimal.Decimal) decimal.Decimal {
	for _, tier := range s.Tiers {
		if principal.LessThanOrEqual(tier.UpTo) {
			return tier.Fee
		}
	}
	return s.Ceiling
}

// TierFor names the tier a principal falls into, "ceiling" above the last.
func (s FeeSchedule) TierFor(principal decimal.Decimal) string {
	for _, tier := range s.Tiers {
		if principal.LessThanOrEqual(tier.UpTo) {
			return tier.Name
		}
	}
	return "ceiling"
}

// Validate checks that bounds strictly ascend and no fee is negative.
func (s FeeSchedule) Validate() error {
	if len(s.Tiers) == 0 {
		return errors.New("fee schedule needs at least one tier")
	}
	for i, tier := range s.Tiers {
		if tier.Fee.IsNegative() {
			return fmt.Errorf("tier %q: fee must not be negative", tier.Name)
		}
		if !tier.UpTo.IsPositive() {
			return fmt.Errorf("tier %q: upper bound must be positive", tier.Name)
		}
		if i > 0 && !tier.UpTo.GreaterThan(s.Tiers[i-1].UpTo) {
			return fmt.Errorf("tier %q: upper bound must exceed %s", tier.Name, s.Tiers[i-1].UpTo)
		}
	}
	if s.Ceiling.IsNegative() {
		return errors.New("ceiling fee must not be negative")
	}
	return nil
}
