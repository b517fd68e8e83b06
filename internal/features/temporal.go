package features

import (
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Temporal holds the calendar flags of a window start.
type Temporal struct {
	Hour       int
	DayOfWeek  int // 1 = Monday, 7 = Sunday
	Month      int
	IsWeekend  bool
	IsMonthEnd bool
	IsMidMonth bool
}

// TemporalFlags derives calendar features from t in its own location.
func TemporalFlags(t time.Time) Temporal {
	day := t.Day()
	last := daysIn(t)
	dow := domain.ISOWeekday(t)

	return Temporal{
		Hour:       t.Hour(),
		DayOfWeek:  dow,
		Month:      int(t.Month()),
		IsWeekend:  dow >= 6,
		IsMonthEnd: day >= 28 || day > last-3,
		IsMidMonth: (day >= 14 && day <= 16) || day >= 29,
	}
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
