// Package jobs holds the scheduled sweeps run by the worker scheduler.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
)

const (
	JobNameGroupingSweep  = "grouping_sweep"
	JobNameRetentionSweep = "retention_sweep"
)

// Grouper is the part of service.BatchService the grouping sweep needs.
type Grouper interface {
	GroupAll(ctx context.Context) (domain.SweepReport, error)
}

// GroupingSweepJob forms batches for every organization with bulk-eligible
// pending inspections.
type GroupingSweepJob struct {
	grouper Grouper
	logger  *slog.Logger
}

// NewGroupingSweepJob creates the grouping sweep.
func NewGroupingSweepJob(grouper Grouper, logger *slog.Logger) *GroupingSweepJob {
	return &GroupingSweepJob{grouper: grouper, logger: logger}
}

// Name returns the job name.
func (j *GroupingSweepJob) Name() string {
	return JobNameGroupingSweep
}

// Run executes one sweep. Organizations that failed are reported as an
// error after the others have been committed.
func (j *GroupingSweepJob) Run(ctx context.Context) error {
	report, err := j.grouper.GroupAll(ctx)
	if err != nil {
		return fmt.Errorf("group all: %w", err)
	}

	j.logger.Info("Grouping sweep report",
		"organizations", report.Organizations,
		"batches_formed", report.BatchesFormed,
		"inspections_grouped", report.InspectionsGrouped,
		"failed", report.Failed,
	)

	if report.Failed > 0 {
		return fmt.Errorf("grouping failed for %d of %d organizations", report.Failed, report.Organizations)
	}
	return nil
}
