// Package archive moves settled bets and old audit rows from the database
// to object-storage cold storage on a fixed interval.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerlab/escrowd/internal/domain"
)

// Worker drives periodic archive runs against a domain.Archiver.
type Worker struct {
	archiver      domain.Archiver
	retentionDays int
	clock         domain.Clock
	logger        *slog.Logger
}

// NewWorker creates a Worker. Rows older than retentionDays are exported.
func NewWorker(archiver domain.Archiver, retentionDays int, clock domain.Clock, logger *slog.Logger) *Worker {
	return &Worker{
		archiver:      archiver,
		retentionDays: retentionDays,
		clock:         clock,
		logger:        logger.With(slog.String("component", "archive")),
	}
}

// Run executes a single archive pass: settled bets first, then the audit
// log, both bounded by the retention cutoff.
func (w *Worker) Run(ctx context.Context) error {
	cutoff := w.clock.Now().Add(-time.Duration(w.retentionDays) * 24 * time.Hour)
	w.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", w.retentionDays),
	)

	bets, err := w.archiver.ArchiveSettledBets(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving settled bets before %v: %w", cutoff, err)
	}

	auditRows, err := w.archiver.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}

	w.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("bets_archived", bets),
		slog.Int64("audit_rows_archived", auditRows),
	)
	return nil
}

// RunLoop runs an archive pass immediately and then on every interval tick
// until the context is cancelled. A failed pass is logged and retried on
// the next tick.
func (w *Worker) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	if err := w.Run(ctx); err != nil {
		w.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
