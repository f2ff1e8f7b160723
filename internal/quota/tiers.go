package quota

import "strings"

// Tier names bucket quota policies. Custom keeps whatever limits an admin set.
const (
	// TierDisabled suspends all AI features for the scope.
	TierDisabled = "disabled"
	// TierFree is the default onboarding tier.
	TierFree = "free"
	// TierStandard is the paid entry tier.
	TierStandard = "standard"
	// TierPremium is the high-volume tier.
	TierPremium = "premium"
	// TierCustom carries admin-set limits.
	TierCustom = "custom"
)

// TierLimits holds per-period ceilings for one tier. Values <= 0 mean
// unlimited for that dimension.
type TierLimits struct {
	MaxRequests   int64 // Requests per period.
	MaxTokens     int64 // Tokens per period.
	MaxCostMicros int64 // Cost per period in micros.
}

// tierDefaults maps tier names to their stock limits.
var tierDefaults = map[string]TierLimits{
	TierDisabled: {},
	TierFree:     {MaxRequests: 50, MaxTokens: 500_000, MaxCostMicros: 5_000_000},
	TierStandard: {MaxRequests: 1_000, MaxTokens: 10_000_000, MaxCostMicros: 100_000_000},
	TierPremium:  {MaxRequests: 10_000, MaxTokens: 100_000_000, MaxCostMicros: 1_000_000_000},
	TierCustom:   {},
}

// NormalizeTier lower-cases and trims a tier name.
func NormalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

// ValidTier reports whether the tier name is known.
func ValidTier(tier string) bool {
	_, ok := tierDefaults[NormalizeTier(tier)]
	return ok
}

// LimitsForTier returns the stock limits for a tier name.
func LimitsForTier(tier string) (TierLimits, bool) {
	limits, ok := tierDefaults[NormalizeTier(tier)]
	return limits, ok
}
