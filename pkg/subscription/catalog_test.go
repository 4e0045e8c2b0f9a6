package subscription_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

const plansYAML = `
plans:
  - tier: basic
    name: Basic
    limits:
      generator: 10
      upscaler: 5
      enhance_prompt: 10
  - tier: pro
    name: Pro
    price_id: ${TEST_PRO_PRICE}
    limits:
      generator: 500
      upscaler: 200
      enhance_prompt: -1
  - tier: premium
    name: Premium
    price_id: price_premium
    limits:
      generator: 1500
  - tier: ultimate
    name: Ultimate
    price_id: price_ultimate
    limits:
      generator: 5000
`

func TestLoadCatalog(t *testing.T) {
	t.Setenv("TEST_PRO_PRICE", "price_from_env")

	c, err := subscription.LoadCatalog(strings.NewReader(plansYAML))
	require.NoError(t, err)

	price, err := c.PriceFor(subscription.TierPro)
	require.NoError(t, err)
	assert.Equal(t, "price_from_env", price)

	tier, ok := c.TierForPrice("price_premium")
	assert.True(t, ok)
	assert.Equal(t, subscription.TierPremium, tier)

	pro := c.Plan(subscription.TierPro)
	assert.Equal(t, int64(500), pro.Limit(usage.FeatureGenerator))
	assert.Equal(t, subscription.Unlimited, pro.Limit(usage.FeatureEnhancePrompt))
	assert.Equal(t, int64(0), c.Plan(subscription.TierPremium).Limit(usage.FeatureUpscaler))

	plans := c.Plans()
	require.Len(t, plans, 4)
	assert.Equal(t, subscription.TierBasic, plans[0].Tier)
	assert.Equal(t, subscription.TierUltimate, plans[3].Tier)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"missing tier", "plans:\n  - tier: basic\n"},
		{"unknown tier", "plans:\n  - tier: gold\n"},
		{"unknown feature", "plans:\n  - tier: basic\n    limits:\n      video: 1\n"},
		{"duplicate tier", "plans:\n  - tier: basic\n  - tier: basic\n"},
		{"not yaml", "plans: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := subscription.LoadCatalog(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, subscription.ErrInvalidCatalog)
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	c := subscription.DefaultCatalog()

	basic := c.Plan(subscription.TierBasic)
	assert.Equal(t, int64(10), basic.Limit(usage.FeatureGenerator))
	assert.Equal(t, int64(5), basic.Limit(usage.FeatureUpscaler))
	assert.Equal(t, int64(10), basic.Limit(usage.FeatureEnhancePrompt))

	ultimate := c.Plan(subscription.TierUltimate)
	assert.Equal(t, int64(5000), ultimate.Limit(usage.FeatureGenerator))
	assert.Equal(t, int64(2000), ultimate.Limit(usage.FeatureUpscaler))
	assert.Equal(t, subscription.Unlimited, ultimate.Limit(usage.FeatureEnhancePrompt))

	_, err := c.PriceFor(subscription.TierPro)
	assert.ErrorIs(t, err, subscription.ErrTierNotPurchasable)
	_, err = c.PriceFor(subscription.TierBasic)
	assert.ErrorIs(t, err, subscription.ErrTierNotPurchasable)

	assert.Equal(t, subscription.TierBasic, c.Plan("gold").Tier)
}
