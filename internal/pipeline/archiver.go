package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// Archiver copies settled history to cold storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. Records older than retentionDays are
// archived on each run.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveResult counts what one run exported.
type ArchiveResult struct {
	Cutoff    time.Time `json:"cutoff"`
	Positions int64     `json:"positions"`
	Audit     int64     `json:"audit"`
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var err error
	if res.Positions, err = a.blobArchiver.ArchivePositions(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archiving positions before %v: %w", res.Cutoff, err)
	}
	if res.Audit, err = a.blobArchiver.ArchiveAudit(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archiving audit log before %v: %w", res.Cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("positions_archived", res.Positions),
		slog.Int64("audit_archived", res.Audit),
	)
	return res, nil
}

// RunCron runs the archiver on a standard 5-field cron expression, in UTC,
// until ctx is cancelled. A run still in progress when the next one is due is
// not overlapped.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}

// ValidateCron reports whether expr is a valid 5-field schedule.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", expr, err)
	}
	return nil
}
