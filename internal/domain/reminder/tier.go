package reminder

import "fmt"

// Tier is one of the three fixed reminder categories. There are no intermediate tiers.
type Tier string

const (
	TierThreeDaysLeft Tier = "three_days_left"
	TierOneDayLeft    Tier = "one_day_left"
	TierDueToday      Tier = "due_today"
)

// AllTiers returns the tiers ordered from the earliest reminder to the due day.
func AllTiers() []Tier {
	return []Tier{TierThreeDaysLeft, TierOneDayLeft, TierDueToday}
}

// DaysBefore is the exact day-delta that selects the tier.
func (t Tier) DaysBefore() int {
	switch t {
	case TierThreeDaysLeft:
		return 3
	case TierOneDayLeft:
		return 1
	default:
		return 0
	}
}

// Templates binds each tier to a provider template identifier (pattern code or message text).
type Templates struct {
	ThreeDays string
	OneDay    string
	DueDay    string
}

// For returns the template bound to tier.
func (t Templates) For(tier Tier) (string, error) {
	switch tier {
	case TierThreeDaysLeft:
		return t.ThreeDays, nil
	case TierOneDayLeft:
		return t.OneDay, nil
	case TierDueToday:
		return t.DueDay, nil
	default:
		return "", fmt.Errorf("unknown reminder tier: %s", tier)
	}
}
