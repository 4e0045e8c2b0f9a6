package subscription

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

// Unlimited marks a feature without a quota.
const Unlimited int64 = -1

// Plan describes what a tier buys.
type Plan struct {
	Tier    Tier                    `yaml:"tier"`
	Name    string                  `yaml:"name"`
	PriceID string                  `yaml:"price_id"`
	Limits  map[usage.Feature]int64 `yaml:"limits"`
}

// Limit returns the quota of a feature; missing features are unavailable (0).
func (p Plan) Limit(f usage.Feature) int64 {
	return p.Limits[f]
}

// Catalog is the immutable set of plans, one per tier.
type Catalog struct {
	plans   map[Tier]Plan
	byPrice map[string]Tier
}

// NewCatalog validates plans: every tier exactly once and every paid tier priced.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[Tier]Plan, len(plans)), byPrice: make(map[string]Tier)}
	for _, p := range plans {
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidCatalog, ErrUnknownTier, p.Tier)
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidCatalog, p.Tier)
		}
		for f := range p.Limits {
			if !f.Valid() {
				return nil, fmt.Errorf("%w: tier %q: %w: %q", ErrInvalidCatalog, p.Tier, usage.ErrUnknownFeature, f)
			}
		}
		if p.PriceID != "" {
			c.byPrice[p.PriceID] = p.Tier
		}
		c.plans[p.Tier] = p
	}
	for t := range tierRank {
		if _, ok := c.plans[t]; !ok {
			return nil, fmt.Errorf("%w: missing tier %q", ErrInvalidCatalog, t)
		}
	}
	return c, nil
}

// LoadCatalog parses YAML of the form `plans: [{tier, name, price_id, limits}]`.
// ${VAR} references are expanded from the environment first, so price ids can
// stay out of the file.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Plans...)
}

func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultCatalog is the built-in plan table. Paid tiers carry no price ids and
// must be overridden by configuration before checkout can work.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Plan{Tier: TierBasic, Name: "Basic", Limits: map[usage.Feature]int64{
			usage.FeatureGenerator: 10, usage.FeatureUpscaler: 5, usage.FeatureEnhancePrompt: 10,
		}},
		Plan{Tier: TierPro, Name: "Pro", Limits: map[usage.Feature]int64{
			usage.FeatureGenerator: 500, usage.FeatureUpscaler: 200, usage.FeatureEnhancePrompt: Unlimited,
		}},
		Plan{Tier: TierPremium, Name: "Premium", Limits: map[usage.Feature]int64{
			usage.FeatureGenerator: 1500, usage.FeatureUpscaler: 600, usage.FeatureEnhancePrompt: Unlimited,
		}},
		Plan{Tier: TierUltimate, Name: "Ultimate", Limits: map[usage.Feature]int64{
			usage.FeatureGenerator: 5000, usage.FeatureUpscaler: 2000, usage.FeatureEnhancePrompt: Unlimited,
		}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Plan returns the plan of a tier; unknown tiers get the basic plan.
func (c *Catalog) Plan(t Tier) Plan {
	if p, ok := c.plans[t]; ok {
		return p
	}
	return c.plans[TierBasic]
}

// TierForPrice maps a billing price id back to its tier.
func (c *Catalog) TierForPrice(priceID string) (Tier, bool) {
	t, ok := c.byPrice[priceID]
	return t, ok
}

// PriceFor returns the billing price of a paid tier.
func (c *Catalog) PriceFor(t Tier) (string, error) {
	p, ok := c.plans[t]
	if !ok || !t.Paid() {
		return "", fmt.Errorf("%w: %q", ErrTierNotPurchasable, t)
	}
	if p.PriceID == "" {
		return "", fmt.Errorf("%w: tier %q has no price id", ErrTierNotPurchasable, t)
	}
	return p.PriceID, nil
}

// Plans returns all plans ordered by rank.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Plan) int { return a.Tier.Rank() - b.Tier.Rank() })
	return out
}
