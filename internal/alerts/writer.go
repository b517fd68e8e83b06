package alerts

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultChunkSize is the number of alerts written per transaction.
const DefaultChunkSize = 1000

// WriteResult counts the outcome of a write.
type WriteResult struct {
	Written int
	Failed  int
}

// Writer upserts alerts in chunks. A chunk that fails as a whole is retried
// row by row; rows that still fail are logged and skipped.
type Writer struct {
	store     domain.AlertStore
	chunkSize int
	logger    *slog.Logger
}

// NewWriter creates an alert writer.
func NewWriter(store domain.AlertStore, chunkSize int, logger *slog.Logger) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:     store,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Write persists alerts. Cancellation is checked between chunks only, so a
// chunk in flight always completes. The returned error is the context error.
func (w *Writer) Write(ctx context.Context, alerts []*domain.Alert) (WriteResult, error) {
	var res WriteResult
	for start := 0; start < len(alerts); start += w.chunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := min(start+w.chunkSize, len(alerts))
		chunk := alerts[start:end]
		inflight := context.WithoutCancel(ctx)

		err := w.store.UpsertAlerts(inflight, chunk)
		if err == nil {
			res.Written += len(chunk)
			continue
		}

		w.logger.Warn("alert chunk failed, retrying per row",
			"chunk_start", start,
			"chunk_size", len(chunk),
			"error", err,
		)
		for _, a := range chunk {
			if err := w.store.UpsertAlert(inflight, a); err != nil {
				res.Failed++
				w.logger.Error("alert write failed",
					"terminal", a.TerminalCode,
					"window", a.WindowStart,
					"error", err,
				)
				continue
			}
			res.Written++
		}
	}
	return res, nil
}
