package domain

import (
	"time"
)

// WindowDuration is the width of one aggregation bucket.
const WindowDuration = 15 * time.Minute

// WindowsPerDay is the number of buckets in one calendar day.
const WindowsPerDay = 96

// RawAggregate is the dispensed total of one terminal over one 15-minute window.
// Produced upstream by ingestion; read-only to the scoring engine.
type RawAggregate struct {
	TerminalCode string    `json:"terminalCode" db:"terminal_code"`
	WindowStart  time.Time `json:"windowStart" db:"window_ts"`
	Amount       float64   `json:"amount" db:"amount"`
	TxnCount     int       `json:"txnCount" db:"txn_count"`
}

// WindowKey identifies one (terminal, window) pair.
type WindowKey struct {
	TerminalCode string
	WindowStart  time.Time
}

// Key returns the identity of the aggregate.
func (a RawAggregate) Key() WindowKey {
	return WindowKey{TerminalCode: a.TerminalCode, WindowStart: a.WindowStart}
}

// BucketStart returns the start of the 15-minute window containing t.
// The result keeps t's location.
func BucketStart(t time.Time) time.Time {
	minute := t.Minute() - t.Minute()%15
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// ISOWeekday returns the day of week with Monday = 1 and Sunday = 7.
func ISOWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}
	return d
}
