package detect

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultBatchSize is the number of windows scored together during a backfill.
const DefaultBatchSize = 1000

// Batches splits windows into time-ordered batches of at most size windows.
// Windows sharing a bucket start are never split across batches, so a batch
// may exceed size when one bucket alone is larger.
func Batches(windows []domain.RawAggregate, size int) [][]domain.RawAggregate {
	if len(windows) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}

	sorted := make([]domain.RawAggregate, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].WindowStart.Equal(sorted[j].WindowStart) {
			return sorted[i].WindowStart.Before(sorted[j].WindowStart)
		}
		return sorted[i].TerminalCode < sorted[j].TerminalCode
	})

	var out [][]domain.RawAggregate
	start := 0
	for start < len(sorted) {
		end := min(start+size, len(sorted))
		for end < len(sorted) && sorted[end].WindowStart.Equal(sorted[end-1].WindowStart) {
			end++
		}
		out = append(out, sorted[start:end])
		start = end
	}
	return out
}

// Backfill re-scores stored windows batch by batch. It stops at the first
// failed batch and returns the results of the completed ones.
func (p *Pipeline) Backfill(ctx context.Context, source string, windows []domain.RawAggregate, batchSize int) ([]*Result, error) {
	batches := Batches(windows, batchSize)
	out := make([]*Result, 0, len(batches))
	for i, batch := range batches {
		res, err := p.Run(ctx, fmt.Sprintf("%s#%d", source, i+1), batch)
		if err != nil {
			return out, fmt.Errorf("backfill batch %d/%d: %w", i+1, len(batches), err)
		}
		out = append(out, res)
	}
	return out, nil
}
