package pricing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photogen/internal/pricing"
)

func TestEveryTierIsSoldForAtLeastOnePeriod(t *testing.T) {
	for _, tier := range pricing.AllTiers() {
		sold := false
		for _, period := range pricing.AllPeriods() {
			if _, err := pricing.Regenerations(pricing.Key{Tier: tier, Period: period}); err == nil {
				sold = true
			}
		}
		assert.True(t, sold, "tier %s has no pricing row", tier)
	}
}

func TestTableCoversEveryPairExplicitly(t *testing.T) {
	for _, tier := range pricing.AllTiers() {
		for _, period := range pricing.AllPeriods() {
			key := pricing.Key{Tier: tier, Period: period}
			n, err := pricing.Regenerations(key)
			if err != nil {
				assert.True(t, errors.Is(err, pricing.ErrUnsupported), key.String())
				continue
			}
			assert.GreaterOrEqual(t, n, 0, key.String())
		}
	}
}

func TestFallbackIsMostRestrictive(t *testing.T) {
	fallback, err := pricing.Regenerations(pricing.Fallback())
	require.NoError(t, err)

	for _, tier := range pricing.AllTiers() {
		for _, period := range pricing.AllPeriods() {
			n, err := pricing.Regenerations(pricing.Key{Tier: tier, Period: period})
			if err != nil {
				continue
			}
			assert.GreaterOrEqual(t, n, fallback)
		}
	}
}

func TestParse(t *testing.T) {
	key, err := pricing.Parse("proSmall", "annual")
	require.NoError(t, err)
	assert.Equal(t, pricing.Key{Tier: pricing.TierProSmall, Period: pricing.PeriodAnnual}, key)

	_, err = pricing.Parse("legacyPro", "monthly")
	assert.ErrorIs(t, err, pricing.ErrUnknownTier)

	_, err = pricing.Parse("vip", "weekly")
	assert.ErrorIs(t, err, pricing.ErrUnknownPeriod)

	_, err = pricing.Parse("free", "annual")
	assert.ErrorIs(t, err, pricing.ErrUnsupported)
}

func TestIsFreePeriod(t *testing.T) {
	assert.True(t, pricing.IsFreePeriod(pricing.PeriodFree))
	assert.True(t, pricing.IsFreePeriod(pricing.PeriodTryOnce))
	assert.False(t, pricing.IsFreePeriod(pricing.PeriodMonthly))
	assert.False(t, pricing.IsFreePeriod(pricing.PeriodAnnual))
}
