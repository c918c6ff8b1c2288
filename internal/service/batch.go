package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/DukeRupert/lukaut-approvals/internal/metrics"
	"github.com/DukeRupert/lukaut-approvals/internal/notify"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// BatchService groups bulk-eligible inspections and resolves them a batch
// at a time.
type BatchService interface {
	// ListBatches returns the organization's batches that still have
	// pending members. Approvers only see batches routed to them.
	// Returns domain.EFORBIDDEN for inspectors.
	ListBatches(ctx context.Context, orgID uuid.UUID, actor domain.Actor) ([]domain.BatchSummary, error)

	// GetBatch returns one batch with its members and their votes.
	// Returns domain.ENOTFOUND for an unknown batch id.
	GetBatch(ctx context.Context, batchID string, actor domain.Actor) (*domain.BatchDetail, error)

	// ApproveBatch approves every member still pending-bulk and returns
	// how many it changed. Zero changes is reported as domain.ENOTFOUND.
	ApproveBatch(ctx context.Context, batchID string, actor domain.Actor, remarks string) (int, error)

	// RejectBatch rejects every member still pending-bulk. Remarks are
	// required and become each member's rejection reason.
	RejectBatch(ctx context.Context, batchID string, actor domain.Actor, remarks string) (int, error)

	// RunGroupingSweep groups one organization on behalf of an admin.
	RunGroupingSweep(ctx context.Context, orgID uuid.UUID, actor domain.Actor) (domain.GroupingResult, error)

	// GroupAll groups every organization with candidates. A failing
	// organization is logged and counted; the others still run.
	GroupAll(ctx context.Context) (domain.SweepReport, error)

	// RunRetentionSweep clears batch tags from terminal inspections older
	// than the retention window and returns how many it cleared.
	RunRetentionSweep(ctx context.Context) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type batchService struct {
	store    InspectionStore
	logger   *slog.Logger
	opts     options
	dispatch dispatcher
}

// NewBatchService creates a new BatchService.
func NewBatchService(store InspectionStore, notifier notify.Notifier, logger *slog.Logger, opts ...Option) BatchService {
	o := newOptions(opts)
	return &batchService{
		store:  store,
		logger: logger,
		opts:   o,
		dispatch: dispatcher{
			notifier: notifier,
			logger:   logger,
			timeout:  o.notifyTimeout,
		},
	}
}

// =============================================================================
// Queries
// =============================================================================

func (s *batchService) ListBatches(ctx context.Context, orgID uuid.UUID, actor domain.Actor) ([]domain.BatchSummary, error) {
	const op = "batch.list"

	if !domain.CanListBatches(actor) {
		return nil, domain.Forbidden(op, "only approvers and admins can list batches")
	}

	var approverID *uuid.UUID
	if !actor.IsAdmin() {
		id := actor.ID
		approverID = &id
	}

	members, err := s.store.ListBatchMembers(ctx, orgID, approverID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list batches")
	}

	byBatch := make(map[string][]*domain.Inspection)
	for _, m := range members {
		if !m.InBatch() {
			continue
		}
		byBatch[*m.BatchID] = append(byBatch[*m.BatchID], m)
	}

	summaries := make([]domain.BatchSummary, 0, len(byBatch))
	for _, group := range byBatch {
		if sum, ok := domain.SummarizeBatch(group); ok {
			summaries = append(summaries, sum)
		}
	}
	sort.Slice(summaries, func(a, b int) bool {
		if !summaries[a].FirstAt.Equal(summaries[b].FirstAt) {
			return summaries[a].FirstAt.Before(summaries[b].FirstAt)
		}
		return summaries[a].BatchID < summaries[b].BatchID
	})
	return summaries, nil
}

func (s *batchService) GetBatch(ctx context.Context, batchID string, actor domain.Actor) (*domain.BatchDetail, error) {
	const op = "batch.get"

	members, err := s.loadBatch(ctx, op, batchID, actor)
	if err != nil {
		return nil, err
	}
	detail, _ := domain.NewBatchDetail(members)
	return detail, nil
}

// loadBatch fetches the batch and checks the actor may act on it.
func (s *batchService) loadBatch(ctx context.Context, op, batchID string, actor domain.Actor) ([]*domain.Inspection, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, domain.Invalid(op, "batch id is required")
	}
	members, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load batch")
	}
	if len(members) == 0 {
		return nil, domain.NotFound(op, "batch", batchID)
	}
	if !domain.CanActOnBatch(actor, members[0].PrimaryApproverID()) {
		return nil, domain.Forbidden(op, "actor is not the approver of this batch")
	}
	return members, nil
}

// =============================================================================
// Batch Actions
// =============================================================================

func (s *batchService) ApproveBatch(ctx context.Context, batchID string, actor domain.Actor, remarks string) (int, error) {
	return s.resolveBatch(ctx, "batch.approve", batchID, actor, remarks, domain.InspectionStatusApproved)
}

func (s *batchService) RejectBatch(ctx context.Context, batchID string, actor domain.Actor, remarks string) (int, error) {
	const op = "batch.reject"
	if strings.TrimSpace(remarks) == "" {
		return 0, domain.Invalid(op, "remarks are required when rejecting a batch")
	}
	return s.resolveBatch(ctx, op, batchID, actor, remarks, domain.InspectionStatusRejected)
}

func (s *batchService) resolveBatch(ctx context.Context, op, batchID string, actor domain.Actor, remarks string, target domain.InspectionStatus) (int, error) {
	if _, err := s.loadBatch(ctx, op, batchID, actor); err != nil {
		return 0, err
	}

	now := s.opts.now()
	remarks = strings.TrimSpace(remarks)

	var resolved []*domain.Inspection
	n, err := s.store.UpdateBatch(ctx, batchID, func(m *domain.Inspection) bool {
		var changed bool
		if target == domain.InspectionStatusApproved {
			changed = m.ApproveInBatch(actor, remarks, now)
		} else {
			changed = m.RejectInBatch(actor, remarks, now)
		}
		if changed {
			resolved = append(resolved, m)
		}
		return changed
	})
	if err != nil {
		return 0, domain.Internal(err, op, "failed to update batch")
	}
	if n == 0 {
		return 0, domain.Errorf(domain.ENOTFOUND, op, "batch %q has no pending members", batchID)
	}

	action := "approve"
	if target == domain.InspectionStatusRejected {
		action = "reject"
	}
	metrics.BatchMembersResolved.WithLabelValues(action).Add(float64(n))
	metrics.InspectionsFinalized.WithLabelValues(target.String(), "batch").Add(float64(n))

	s.logger.Info("batch resolved",
		"batch_id", batchID,
		"action", action,
		"actor_id", actor.ID,
		"modified", n,
	)

	for _, m := range resolved {
		s.dispatch.send(ctx, m.SubmittedBy, resolvedNotification(m, now))
	}
	return n, nil
}

// =============================================================================
// Grouping
// =============================================================================

func (s *batchService) RunGroupingSweep(ctx context.Context, orgID uuid.UUID, actor domain.Actor) (domain.GroupingResult, error) {
	const op = "batch.run_grouping_sweep"

	if !domain.CanRunSweep(actor) {
		return domain.GroupingResult{}, domain.Forbidden(op, "only admins can run a grouping sweep")
	}
	res, err := s.groupOrganization(ctx, orgID)
	if err != nil {
		return res, domain.Internal(err, op, "grouping sweep did not complete")
	}
	return res, nil
}

func (s *batchService) GroupAll(ctx context.Context) (domain.SweepReport, error) {
	const op = "batch.group_all"

	orgs, err := s.store.ListOrganizationsWithCandidates(ctx)
	if err != nil {
		return domain.SweepReport{}, domain.Internal(err, op, "failed to list organizations")
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = domain.SweepReport{Organizations: len(orgs)}
		sem    = make(chan struct{}, s.opts.sweepConcurrency)
	)

	for _, orgID := range orgs {
		if ctx.Err() != nil {
			mu.Lock()
			report.Failed++
			mu.Unlock()
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(orgID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.groupIsolated(ctx, orgID)

			mu.Lock()
			defer mu.Unlock()
			report.BatchesFormed += res.BatchesFormed
			report.InspectionsGrouped += res.InspectionsGrouped
			if err != nil {
				report.Failed++
				metrics.GroupingFailures.Inc()
				s.logger.Error("grouping failed for organization",
					"organization_id", orgID,
					"error", err,
				)
			}
		}(orgID)
	}
	wg.Wait()

	s.logger.Info("grouping sweep finished",
		"organizations", report.Organizations,
		"failed", report.Failed,
		"batches_formed", report.BatchesFormed,
		"inspections_grouped", report.InspectionsGrouped,
	)
	return report, nil
}

// groupIsolated keeps a panic in one organization from taking down the sweep.
func (s *batchService) groupIsolated(ctx context.Context, orgID uuid.UUID) (res domain.GroupingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while grouping: %v", r)
		}
	}()
	return s.groupOrganization(ctx, orgID)
}

// groupOrganization claims one organization's candidates into batches keyed
// by (workflow, primary approver, submission day). Each group is claimed
// with one conditional update, so an inspection resolved since it was
// listed is left alone.
func (s *batchService) groupOrganization(ctx context.Context, orgID uuid.UUID) (domain.GroupingResult, error) {
	res := domain.GroupingResult{OrganizationID: orgID}

	candidates, err := s.store.ListGroupingCandidates(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("list candidates: %w", err)
	}

	type group struct {
		ids    []uuid.UUID
		sample *domain.Inspection
	}
	groups := make(map[domain.BatchKey]*group)
	var order []domain.BatchKey

	for _, c := range candidates {
		approver := c.PrimaryApproverID()
		if !c.CanJoinBatch() || approver == uuid.Nil {
			continue
		}
		key := domain.BatchKey{
			WorkflowID: c.WorkflowID,
			ApproverID: approver,
			Day:        c.SubmissionDay(s.opts.location),
		}
		g, ok := groups[key]
		if !ok {
			g = &group{sample: c}
			groups[key] = g
			order = append(order, key)
		}
		g.ids = append(g.ids, c.ID)
	}

	now := s.opts.now()
	var errs []error
	for _, key := range order {
		g := groups[key]
		batchID := domain.NewBatchID(key, now)

		claimed, err := s.store.ClaimForBatch(ctx, g.ids, batchID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", key, err))
			continue
		}
		if len(claimed) == 0 {
			continue
		}

		res.BatchesFormed++
		res.InspectionsGrouped += len(claimed)
		metrics.BatchesFormed.Inc()
		metrics.InspectionsGrouped.Add(float64(len(claimed)))

		s.logger.Info("batch formed",
			"organization_id", orgID,
			"batch_id", batchID,
			"workflow_id", key.WorkflowID,
			"approver_id", key.ApproverID,
			"members", len(claimed),
			"skipped", len(g.ids)-len(claimed),
		)

		s.dispatch.send(ctx, key.ApproverID, notify.Notification{
			Type:           notify.TypeBatchReady,
			OrganizationID: orgID,
			BatchID:        batchID,
			Count:          len(claimed),
			WorkflowName:   g.sample.WorkflowName,
			Category:       g.sample.Category,
			CreatedAt:      now,
		})
	}

	return res, errors.Join(errs...)
}

// =============================================================================
// Retention
// =============================================================================

func (s *batchService) RunRetentionSweep(ctx context.Context) (int64, error) {
	const op = "batch.run_retention_sweep"

	cutoff := s.opts.now().Add(-s.opts.retention)
	n, err := s.store.ClearBatchTags(ctx, cutoff)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to clear batch tags")
	}

	metrics.BatchTagsCleared.Add(float64(n))
	s.logger.Info("retention sweep finished",
		"cutoff", cutoff,
		"cleared", n,
	)
	return n, nil
}
