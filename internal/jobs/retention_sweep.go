package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// Retainer is the part of service.BatchService the retention sweep needs.
type Retainer interface {
	RunRetentionSweep(ctx context.Context) (int64, error)
}

// RetentionSweepJob clears stale batch tags from resolved inspections.
type RetentionSweepJob struct {
	retainer Retainer
	logger   *slog.Logger
}

// NewRetentionSweepJob creates the retention sweep.
func NewRetentionSweepJob(retainer Retainer, logger *slog.Logger) *RetentionSweepJob {
	return &RetentionSweepJob{retainer: retainer, logger: logger}
}

// Name returns the job name.
func (j *RetentionSweepJob) Name() string {
	return JobNameRetentionSweep
}

// Run executes one sweep.
func (j *RetentionSweepJob) Run(ctx context.Context) error {
	n, err := j.retainer.RunRetentionSweep(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	j.logger.Debug("Retention sweep report", "cleared", n)
	return nil
}
