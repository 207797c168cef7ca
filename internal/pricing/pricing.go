// Package pricing holds the fixed subscription pricing table that decides how
// many free regenerations a generation group receives.
package pricing

import (
	"errors"
	"fmt"
	"strings"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierTryOnce    Tier = "tryOnce"
	TierIndividual Tier = "individual"
	TierProSmall   Tier = "proSmall"
	TierProLarge   Tier = "proLarge"
	TierVIP        Tier = "vip"
	TierEnterprise Tier = "enterprise"
)

type Period string

const (
	PeriodFree    Period = "free"
	PeriodTryOnce Period = "tryOnce"
	PeriodMonthly Period = "monthly"
	PeriodAnnual  Period = "annual"
)

// Key identifies one row of the pricing table.
type Key struct {
	Tier   Tier
	Period Period
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Tier, k.Period)
}

var (
	ErrUnknownTier   = errors.New("unknown pricing tier")
	ErrUnknownPeriod = errors.New("unknown billing period")
	ErrUnsupported   = errors.New("tier is not sold for this billing period")
)

// regenerations is the single source of truth for regeneration allowances.
// Every (tier, period) pair missing from this table is not a sellable plan.
var regenerations = map[Key]int{
	{TierFree, PeriodFree}:          1,
	{TierTryOnce, PeriodTryOnce}:    2,
	{TierIndividual, PeriodMonthly}: 2,
	{TierIndividual, PeriodAnnual}:  3,
	{TierProSmall, PeriodMonthly}:   3,
	{TierProSmall, PeriodAnnual}:    4,
	{TierProLarge, PeriodMonthly}:   3,
	{TierProLarge, PeriodAnnual}:    4,
	{TierVIP, PeriodMonthly}:        4,
	{TierVIP, PeriodAnnual}:         5,
	{TierEnterprise, PeriodMonthly}: 5,
	{TierEnterprise, PeriodAnnual}:  5,
}

var allTiers = []Tier{TierFree, TierTryOnce, TierIndividual, TierProSmall, TierProLarge, TierVIP, TierEnterprise}

var allPeriods = []Period{PeriodFree, PeriodTryOnce, PeriodMonthly, PeriodAnnual}

// AllTiers returns every known tier.
func AllTiers() []Tier {
	out := make([]Tier, len(allTiers))
	copy(out, allTiers)
	return out
}

// AllPeriods returns every known billing period.
func AllPeriods() []Period {
	out := make([]Period, len(allPeriods))
	copy(out, allPeriods)
	return out
}

// Fallback is the most restrictive plan, used when a principal has no usable subscription.
func Fallback() Key {
	return Key{Tier: TierFree, Period: PeriodFree}
}

func ParseTier(raw string) (Tier, error) {
	raw = strings.TrimSpace(raw)
	for _, t := range allTiers {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
}

func ParsePeriod(raw string) (Period, error) {
	raw = strings.TrimSpace(raw)
	for _, p := range allPeriods {
		if string(p) == raw {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
}

// Parse validates raw tier and period strings against the table.
func Parse(tier, period string) (Key, error) {
	t, err := ParseTier(tier)
	if err != nil {
		return Key{}, err
	}
	p, err := ParsePeriod(period)
	if err != nil {
		return Key{}, err
	}
	key := Key{Tier: t, Period: p}
	if _, ok := regenerations[key]; !ok {
		return Key{}, fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	return key, nil
}

// Regenerations returns the regeneration allowance for a plan.
func Regenerations(key Key) (int, error) {
	n, ok := regenerations[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	return n, nil
}

// IsFreePeriod reports whether the billing period grants no paid features.
// A tryOnce purchase counts as free.
func IsFreePeriod(p Period) bool {
	return p == PeriodFree || p == PeriodTryOnce
}
