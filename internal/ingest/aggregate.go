package ingest

import (
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Aggregate sums records into one RawAggregate per (terminal, 15-minute window).
// Windows are returned in UTC, ordered by terminal then window start.
func Aggregate(records []Record) []domain.RawAggregate {
	index := make(map[domain.WindowKey]int)
	var out []domain.RawAggregate

	for _, r := range records {
		key := domain.WindowKey{
			TerminalCode: r.TerminalCode,
			WindowStart:  domain.BucketStart(r.Timestamp).UTC(),
		}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, domain.RawAggregate{
				TerminalCode: key.TerminalCode,
				WindowStart:  key.WindowStart,
			})
		}
		out[i].Amount += r.Amount
		out[i].TxnCount++
	}

	SortWindows(out)
	return out
}

// SortWindows orders aggregates by terminal, then window start.
func SortWindows(windows []domain.RawAggregate) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].TerminalCode != windows[j].TerminalCode {
			return windows[i].TerminalCode < windows[j].TerminalCode
		}
		return windows[i].WindowStart.Before(windows[j].WindowStart)
	})
}

// Span returns the earliest and latest window start in a batch.
func Span(windows []domain.RawAggregate) (from, to time.Time) {
	for i, w := range windows {
		if i == 0 || w.WindowStart.Before(from) {
			from = w.WindowStart
		}
		if i == 0 || w.WindowStart.After(to) {
			to = w.WindowStart
		}
	}
	return from, to
}
