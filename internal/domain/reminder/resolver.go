package reminder

import (
	"time"

	"installment_notifier/internal/domain/contract"
)

// Midnight pins t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayDelta returns the number of calendar days from today to due, both taken in loc.
// Negative when due is in the past. Counting is done on the civil date so DST shifts do not
// produce 23h or 25h "days".
func DayDelta(today, due time.Time, loc *time.Location) int {
	a := Midnight(today, loc)
	b := Midnight(due, loc)
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// Resolve selects the reminder tier for an installment, if any.
//
// Paid installments never get a reminder. Past due dates never get one either: a missed window
// is not caught up. Otherwise the day-delta must match a tier exactly (3, 1 or 0). A process
// outage spanning a trigger day therefore loses that tier for the affected installment.
func Resolve(today, dueDate time.Time, status contract.Status, loc *time.Location) (Tier, bool) {
	if status == contract.StatusPaid {
		return "", false
	}

	delta := DayDelta(today, dueDate, loc)
	switch delta {
	case 3:
		return TierThreeDaysLeft, true
	case 1:
		return TierOneDayLeft, true
	case 0:
		return TierDueToday, true
	default:
		return "", false
	}
}
