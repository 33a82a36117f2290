package enums

import "fmt"

// SubscriptionTier labels a user's plan. New accounts start on the free tier.
type SubscriptionTier string

const (
	SubscriptionTierFree         SubscriptionTier = "free"
	SubscriptionTierStarter      SubscriptionTier = "starter"
	SubscriptionTierCreator      SubscriptionTier = "creator"
	SubscriptionTierProfessional SubscriptionTier = "professional"
	SubscriptionTierStudio       SubscriptionTier = "studio"
	SubscriptionTierEnterprise   SubscriptionTier = "enterprise"
)

var validSubscriptionTiers = []SubscriptionTier{
	SubscriptionTierFree,
	SubscriptionTierStarter,
	SubscriptionTierCreator,
	SubscriptionTierProfessional,
	SubscriptionTierStudio,
	SubscriptionTierEnterprise,
}

// String implements fmt.Stringer.
func (s SubscriptionTier) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SubscriptionTier.
func (s SubscriptionTier) IsValid() bool {
	for _, candidate := range validSubscriptionTiers {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionTier converts raw input into a SubscriptionTier.
func ParseSubscriptionTier(value string) (SubscriptionTier, error) {
	for _, candidate := range validSubscriptionTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription tier %q", value)
}
