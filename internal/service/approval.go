// Package service contains the business logic layer.
//
// ApprovalService and the interactive BatchService operations (listing,
// approving and rejecting batches, RunGroupingSweep for one organization)
// are a library surface: the embedding application's web layer calls them
// with an authenticated domain.Actor. cmd/server only drives the scheduled
// sweeps through GroupAll and RunRetentionSweep.
//
// This file implements the approval service: submission with auto-approval
// evaluation, and per-inspection voting.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/DukeRupert/lukaut-approvals/internal/metrics"
	"github.com/DukeRupert/lukaut-approvals/internal/notify"
	"github.com/DukeRupert/lukaut-approvals/internal/rules"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ApprovalService defines the operations on individual inspections.
type ApprovalService interface {
	// Submit creates an inspection, runs auto-approval when the workflow
	// asks for it, and notifies approvers of non-batched work.
	// Returns a *domain.ValidationError for malformed input.
	Submit(ctx context.Context, params domain.SubmitParams) (*domain.Inspection, error)

	// CastVote records one approver's decision.
	// Returns domain.ENOTFOUND for an unknown inspection, domain.EFORBIDDEN
	// when the actor holds no vote slot and is not an admin, and
	// domain.ECONFLICT when the inspection is already terminal. A vote on a
	// slot that already carries a decision succeeds without change.
	CastVote(ctx context.Context, params domain.CastVoteParams) (*domain.Inspection, error)

	// Get returns one inspection.
	// Returns domain.ENOTFOUND if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error)
}

// =============================================================================
// Implementation
// =============================================================================

type approvalService struct {
	store    InspectionStore
	logger   *slog.Logger
	opts     options
	dispatch dispatcher
}

// NewApprovalService creates a new ApprovalService.
//
// Example usage:
//
//	approvals := service.NewApprovalService(store, notifier, logger,
//		service.WithLocation(cfg.Location))
func NewApprovalService(store InspectionStore, notifier notify.Notifier, logger *slog.Logger, opts ...Option) ApprovalService {
	o := newOptions(opts)
	return &approvalService{
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
// Submit
// =============================================================================

func (s *approvalService) Submit(ctx context.Context, params domain.SubmitParams) (*domain.Inspection, error) {
	const op = "approval.submit"

	now := s.opts.now()
	createdAt, approverIDs, err := s.validateSubmitParams(params, now)
	if err != nil {
		return nil, err
	}

	wf := params.Workflow
	votes := make([]domain.ApprovalVote, 0, len(approverIDs))
	for _, id := range approverIDs {
		votes = append(votes, domain.ApprovalVote{ApproverID: id, Decision: domain.DecisionPending})
	}

	insp := &domain.Inspection{
		ID:                  uuid.New(),
		OrganizationID:      wf.OrganizationID,
		WorkflowID:          wf.ID,
		WorkflowName:        wf.Name,
		Category:            wf.Category,
		SubmittedBy:         params.SubmittedBy.ID,
		BulkApprovalEnabled: wf.AutoApproval.BulkApprovalEnabled,
		FilledSteps:         params.FilledSteps,
		MeterReading:        params.MeterReading,
		Status:              domain.InspectionStatusPending,
		Approvers:           votes,
		CreatedAt:           createdAt,
		UpdatedAt:           now,
	}

	if wf.IsRoutine && (params.RequestAutoApproval || wf.AutoApproval.Enabled) {
		eval, err := s.evaluate(ctx, insp, wf.AutoApproval, now)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to evaluate auto-approval rules")
		}
		insp.AutoApproval = &eval
		if eval.Eligible {
			insp.AutoApprove(eval)
		}
	}

	if err := s.store.Create(ctx, insp); err != nil {
		return nil, domain.Internal(err, op, "failed to create inspection")
	}

	s.logger.Info("inspection submitted",
		"inspection_id", insp.ID,
		"organization_id", insp.OrganizationID,
		"workflow_id", insp.WorkflowID,
		"submitted_by", insp.SubmittedBy,
		"status", insp.Status,
		"approvers", len(insp.Approvers),
	)
	metrics.InspectionsSubmitted.WithLabelValues(insp.Status.String()).Inc()

	switch {
	case insp.Status == domain.InspectionStatusAutoApproved:
		metrics.InspectionsFinalized.WithLabelValues(insp.Status.String(), "auto").Inc()
		s.dispatch.send(ctx, insp.SubmittedBy, resolvedNotification(insp, now))
	case !insp.BulkApprovalEnabled:
		// Bulk-enabled submissions are announced once per batch instead.
		for _, v := range insp.Approvers {
			s.dispatch.send(ctx, v.ApproverID, notify.Notification{
				Type:           notify.TypeInspectionSubmitted,
				OrganizationID: insp.OrganizationID,
				InspectionID:   insp.ID,
				Count:          1,
				WorkflowName:   insp.WorkflowName,
				Category:       insp.Category,
				CreatedAt:      now,
			})
		}
	}

	return insp, nil
}

// evaluate runs the rule evaluator. An invalid rule set is an ineligible
// outcome, not an error: the workflow is misconfigured, the submission is
// still valid.
func (s *approvalService) evaluate(ctx context.Context, insp *domain.Inspection, rs domain.AutoApprovalRuleSet, now time.Time) (domain.Evaluation, error) {
	if err := rs.Validate(); err != nil {
		s.logger.Warn("workflow has invalid auto-approval rules",
			"workflow_id", insp.WorkflowID,
			"error", err,
		)
		metrics.AutoApprovalEvaluations.WithLabelValues("ineligible").Inc()
		return domain.Evaluation{
			Eligible:    false,
			Reason:      "invalid auto-approval rules: " + domain.ErrorMessage(err),
			EvaluatedAt: now,
		}, nil
	}

	env := rules.Env{Now: now, Location: s.opts.location}
	if rs.HasFrequencyLimit() {
		since := now.Add(-rs.FrequencyPeriod.Duration())
		count, err := s.store.CountAutoApproved(ctx, insp.SubmittedBy, insp.WorkflowID, since)
		if err != nil {
			return domain.Evaluation{}, err
		}
		env.RecentAutoApprovals = count
	}

	res := rules.Evaluate(insp, rs, env)
	result := "ineligible"
	if res.Eligible {
		result = "eligible"
	}
	metrics.AutoApprovalEvaluations.WithLabelValues(result).Inc()

	s.logger.Debug("auto-approval evaluated",
		"workflow_id", insp.WorkflowID,
		"eligible", res.Eligible,
		"reason", res.Reason,
	)
	return domain.Evaluation{Eligible: res.Eligible, Reason: res.Reason, EvaluatedAt: now}, nil
}

// validateSubmitParams checks the submission and returns its creation time
// and the resolved approver list.
func (s *approvalService) validateSubmitParams(params domain.SubmitParams, now time.Time) (time.Time, []uuid.UUID, error) {
	const op = "approval.validate_submit"

	ve := &domain.ValidationError{Op: op, Fields: map[string]string{}}

	if params.Workflow.ID == uuid.Nil {
		ve.Fields["workflow_id"] = "is required"
	}
	if params.Workflow.OrganizationID == uuid.Nil {
		ve.Fields["organization_id"] = "is required"
	}
	if params.SubmittedBy.ID == uuid.Nil {
		ve.Fields["submitted_by"] = "is required"
	}
	if !params.SubmittedBy.Role.IsValid() {
		ve.Fields["submitted_by_role"] = "must be admin, approver or inspector"
	}
	if len(params.FilledSteps) == 0 {
		ve.Fields["filled_steps"] = "at least one filled step is required"
	}

	createdAt, err := s.parseSubmissionDate(params.SubmissionDate, now)
	if err != nil {
		ve.Fields["submission_date"] = err.Error()
	}

	approvers := resolveApprovers(params)
	if len(approvers) == 0 {
		ve.Fields["approver_ids"] = "at least one approver is required"
	}

	if len(ve.Fields) > 0 {
		return time.Time{}, nil, ve
	}
	return createdAt, approvers, nil
}

// resolveApprovers de-duplicates the requested approvers, preserving order,
// and appends the organization admin for approver-class submitters.
func resolveApprovers(params domain.SubmitParams) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(params.ApproverIDs)+1)
	ids := make([]uuid.UUID, 0, len(params.ApproverIDs)+1)
	for _, id := range params.ApproverIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	admin := params.OrganizationAdminID
	if params.SubmittedBy.Role.IsApproverClass() && admin != uuid.Nil && !seen[admin] {
		ids = append(ids, admin)
	}
	return ids
}

var errSubmissionDate = errors.New("must be RFC 3339 or YYYY-MM-DD")

// parseSubmissionDate accepts RFC 3339 timestamps or plain dates. A plain
// date takes the current time of day in the configured location.
func (s *approvalService) parseSubmissionDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}

	var t time.Time
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		t = ts
	} else if d, err := time.ParseInLocation("2006-01-02", raw, s.opts.location); err == nil {
		local := now.In(s.opts.location)
		t = time.Date(d.Year(), d.Month(), d.Day(),
			local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), s.opts.location)
	} else {
		return time.Time{}, errSubmissionDate
	}

	if t.After(now.Add(24 * time.Hour)) {
		return time.Time{}, errors.New("must not be in the future")
	}
	return t, nil
}

// =============================================================================
// CastVote
// =============================================================================

func (s *approvalService) CastVote(ctx context.Context, params domain.CastVoteParams) (*domain.Inspection, error) {
	const op = "approval.cast_vote"

	for attempt := 1; ; attempt++ {
		insp, err := s.store.Get(ctx, params.InspectionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, domain.NotFound(op, "inspection", params.InspectionID.String())
			}
			return nil, domain.Internal(err, op, "failed to load inspection")
		}

		now := s.opts.now()
		outcome, err := insp.ApplyVote(params.Actor, params.Decision, params.Remarks, now)
		if err != nil {
			return nil, err
		}
		if outcome == domain.VoteUnchanged {
			return insp, nil
		}

		err = s.store.Save(ctx, insp)
		if errors.Is(err, ErrStale) {
			metrics.StaleWriteRetries.WithLabelValues(op).Inc()
			if attempt >= s.opts.maxRetries {
				return nil, domain.Conflict(op, "inspection is being modified concurrently, try again")
			}
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, domain.NotFound(op, "inspection", params.InspectionID.String())
		}
		if err != nil {
			return nil, domain.Internal(err, op, "failed to save vote")
		}

		metrics.VotesCast.WithLabelValues(params.Decision.String()).Inc()
		s.logger.Info("vote cast",
			"inspection_id", insp.ID,
			"actor_id", params.Actor.ID,
			"actor_role", params.Actor.Role,
			"decision", params.Decision,
			"status", insp.Status,
		)

		if outcome == domain.VoteFinalized {
			metrics.InspectionsFinalized.WithLabelValues(insp.Status.String(), "vote").Inc()
			s.dispatch.send(ctx, insp.SubmittedBy, resolvedNotification(insp, now))
		}
		return insp, nil
	}
}

// =============================================================================
// Get
// =============================================================================

func (s *approvalService) Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	const op = "approval.get"

	insp, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.NotFound(op, "inspection", id.String())
		}
		return nil, domain.Internal(err, op, "failed to load inspection")
	}
	return insp, nil
}

func resolvedNotification(insp *domain.Inspection, now time.Time) notify.Notification {
	return notify.Notification{
		Type:           notify.TypeInspectionResolved,
		OrganizationID: insp.OrganizationID,
		InspectionID:   insp.ID,
		Count:          1,
		WorkflowName:   insp.WorkflowName,
		Category:       insp.Category,
		Status:         insp.Status.String(),
		CreatedAt:      now,
	}
}
