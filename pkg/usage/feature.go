package usage

import (
	"fmt"
	"time"
)

// Feature identifies a metered capability.
type Feature string

const (
	FeatureGenerator     Feature = "generator"
	FeatureUpscaler      Feature = "upscaler"
	FeatureEnhancePrompt Feature = "enhance_prompt"
)

// Features lists every metered feature in display order.
var Features = []Feature{FeatureGenerator, FeatureUpscaler, FeatureEnhancePrompt}

var prefixes = map[Feature]string{
	FeatureGenerator:     "image_generations",
	FeatureUpscaler:      "image_upscales",
	FeatureEnhancePrompt: "prompt_enhancements",
}

func (f Feature) Valid() bool {
	_, ok := prefixes[f]
	return ok
}

// Prefix is the key-value namespace of the feature's counters.
func (f Feature) Prefix() string {
	return prefixes[f]
}

func ParseFeature(s string) (Feature, error) {
	f := Feature(s)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
	}
	return f, nil
}

// Keys names the three keys backing one counter.
type Keys struct {
	Count string
	Date  string
	Total string
}

func KeysFor(f Feature, userID string) Keys {
	base := f.Prefix() + ":" + userID
	return Keys{Count: base, Date: base + ":date", Total: base + ":total"}
}

// Counter is a snapshot of one user's usage of one feature.
type Counter struct {
	Count    int64
	LastUsed time.Time // zero when never used
	Total    int64
}

// dateLayout has fixed width so stored timestamps compare correctly as strings inside Lua.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
