package domain

import (
	"strings"
	"time"

	"github.com/cineclub/membersync/internal/config"
	webhookdomain "github.com/cineclub/membersync/internal/webhook/domain"
)

// NormalizeEmail lowercases and trims an email address. An address that is
// empty after trimming normalizes to "".
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeStatus maps a processor subscription status onto the membership
// status enum. Unset input means the state could not be determined.
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
		return StatusUnknown
	case "active", "trialing":
		return StatusActive
	case "past_due":
		return StatusPastDue
	default:
		return StatusInactive
	}
}

// ResolveTier picks the membership tier from the strongest available pricing
// signal: explicit price metadata, then the plan nickname, then the
// configured price-to-tier table, and finally TierUnknown.
func ResolveTier(sub *webhookdomain.Subscription, table config.TierTable) string {
	if sub == nil {
		return TierUnknown
	}

	if tier := normalizeTier(sub.PriceMetadata["tier"]); tier != "" {
		return tier
	}
	if tier := normalizeTier(sub.PlanNickname); tier != "" {
		return tier
	}
	if tier := table.Resolve(sub.PriceID); tier != "" {
		return tier
	}
	return TierUnknown
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

// PeriodEnd converts a unix timestamp into UTC time, or nil when unset.
func PeriodEnd(unix int64) *time.Time {
	if unix <= 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}
