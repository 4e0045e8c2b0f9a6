package subscription

import (
	"fmt"
	"strings"
)

// Tier is a commercial plan level.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierPro      Tier = "pro"
	TierPremium  Tier = "premium"
	TierUltimate Tier = "ultimate"
)

// TierMetadataKey is the billing metadata key carrying the tier of a price or product.
const TierMetadataKey = "tier"

var tierRank = map[Tier]int{
	TierBasic:    0,
	TierPro:      1,
	TierPremium:  2,
	TierUltimate: 3,
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank orders tiers; higher is more expensive. Unknown tiers rank as basic.
func (t Tier) Rank() int {
	return tierRank[t]
}

func (t Tier) Paid() bool {
	return t.Rank() > 0
}

// Monthly reports whether usage for the tier resets monthly instead of daily.
func (t Tier) Monthly() bool {
	return t.Paid()
}

func (t Tier) String() string {
	return string(t)
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// ResolveTier picks the tier of a billing price. Explicit metadata wins, price
// metadata before product metadata. The lower-cased product name is only a
// fallback for products created before metadata was introduced. Anything
// unmatched is basic.
func ResolveTier(priceMeta, productMeta map[string]string, productName string) Tier {
	for _, meta := range []map[string]string{priceMeta, productMeta} {
		if t, err := ParseTier(meta[TierMetadataKey]); err == nil {
			return t
		}
	}
	if t, err := ParseTier(productName); err == nil {
		return t
	}
	return TierBasic
}
