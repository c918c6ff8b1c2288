package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/DukeRupert/lukaut-approvals/internal/notify"
	"github.com/DukeRupert/lukaut-approvals/internal/repository/memory"
	"github.com/DukeRupert/lukaut-approvals/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Submit
// =============================================================================

func TestSubmit_AutoApproval(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{
		Enabled:        true,
		RequirePhoto:   false,
		TimeRangeStart: "00:00",
		TimeRangeEnd:   "23:59",
		MinValue:       f(0),
		MaxValue:       f(100),
	})
	submitter := inspector()
	a1, a2 := uuid.New(), uuid.New()

	for _, hour := range []int{0, 7, 13, 23} {
		h.clock.Set(time.Date(2026, 3, 14, hour, 5, 0, 0, time.UTC))
		insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
			Workflow:     wf,
			SubmittedBy:  submitter,
			ApproverIDs:  []uuid.UUID{a1, a2},
			FilledSteps:  steps("see meter"),
			MeterReading: f(42),
		})
		require.NoError(t, err)

		assert.Equal(t, domain.InspectionStatusAutoApproved, insp.Status)
		require.NotNil(t, insp.AutoApproval)
		assert.True(t, insp.AutoApproval.Eligible)
		require.NotNil(t, insp.ApprovedAt)
		for _, v := range insp.Approvers {
			assert.Equal(t, domain.DecisionApproved, v.Decision)
			assert.Equal(t, domain.AutoApprovedRemark, v.Remarks)
			assert.NotNil(t, v.DecidedAt)
		}
	}

	resolved := h.notifier.ofType(notify.TypeInspectionResolved)
	require.Len(t, resolved, 4)
	assert.Equal(t, submitter.ID, resolved[0].Recipient)
	assert.Empty(t, h.notifier.ofType(notify.TypeInspectionSubmitted))
}

func TestSubmit_IneligibleStaysPendingWithReason(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{Enabled: true, MinValue: f(0), MaxValue: f(100)})
	a := uuid.New()

	insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
		Workflow:     wf,
		SubmittedBy:  inspector(),
		ApproverIDs:  []uuid.UUID{a},
		FilledSteps:  steps("x"),
		MeterReading: f(420),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.InspectionStatusPending, insp.Status)
	require.NotNil(t, insp.AutoApproval)
	assert.False(t, insp.AutoApproval.Eligible)
	assert.Equal(t, "value 420 above maximum 100", insp.AutoApproval.Reason)

	submitted := h.notifier.ofType(notify.TypeInspectionSubmitted)
	require.Len(t, submitted, 1)
	assert.Equal(t, a, submitted[0].Recipient)
	assert.Equal(t, insp.ID, submitted[0].N.InspectionID)
}

func TestSubmit_EvaluatorGate(t *testing.T) {
	tests := []struct {
		name      string
		routine   bool
		enabled   bool
		requested bool
		wantEval  bool
	}{
		{"routine and enabled", true, true, false, true},
		{"routine and requested", true, false, true, true},
		{"routine but neither", true, false, false, false},
		{"not routine", false, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			wf := h.workflow("Fire Exit", domain.AutoApprovalRuleSet{Enabled: tt.enabled})
			wf.IsRoutine = tt.routine

			insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
				Workflow:            wf,
				SubmittedBy:         inspector(),
				ApproverIDs:         []uuid.UUID{uuid.New()},
				FilledSteps:         steps("ok"),
				RequestAutoApproval: tt.requested,
			})
			require.NoError(t, err)

			if tt.wantEval {
				assert.Equal(t, domain.InspectionStatusAutoApproved, insp.Status)
				require.NotNil(t, insp.AutoApproval)
			} else {
				assert.Equal(t, domain.InspectionStatusPending, insp.Status)
				assert.Nil(t, insp.AutoApproval)
			}
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{})

	tests := []struct {
		name       string
		params     domain.SubmitParams
		wantFields []string
	}{
		{
			name:       "zero approvers",
			params:     domain.SubmitParams{Workflow: wf, SubmittedBy: inspector(), FilledSteps: steps("1")},
			wantFields: []string{"approver_ids"},
		},
		{
			name:       "only nil approvers",
			params:     domain.SubmitParams{Workflow: wf, SubmittedBy: inspector(), ApproverIDs: []uuid.UUID{uuid.Nil}, FilledSteps: steps("1")},
			wantFields: []string{"approver_ids"},
		},
		{
			name: "unparseable date",
			params: domain.SubmitParams{
				Workflow: wf, SubmittedBy: inspector(), ApproverIDs: []uuid.UUID{uuid.New()},
				FilledSteps: steps("1"), SubmissionDate: "14/03/2026",
			},
			wantFields: []string{"submission_date"},
		},
		{
			name: "future date",
			params: domain.SubmitParams{
				Workflow: wf, SubmittedBy: inspector(), ApproverIDs: []uuid.UUID{uuid.New()},
				FilledSteps: steps("1"), SubmissionDate: "2026-04-01",
			},
			wantFields: []string{"submission_date"},
		},
		{
			name:       "missing everything",
			params:     domain.SubmitParams{},
			wantFields: []string{"workflow_id", "organization_id", "submitted_by", "submitted_by_role", "filled_steps", "approver_ids"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.approvals.Submit(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, domain.IsInvalid(err))

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			for _, field := range tt.wantFields {
				assert.Contains(t, ve.Fields, field)
			}
			assert.Len(t, ve.Fields, len(tt.wantFields))
		})
	}
}

func TestSubmit_SubmissionDate(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{})

	insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
		Workflow: wf, SubmittedBy: inspector(), ApproverIDs: []uuid.UUID{uuid.New()},
		FilledSteps: steps("1"), SubmissionDate: "2026-03-12",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 10, 30, 0, 0, time.UTC), insp.CreatedAt)

	insp, err = h.approvals.Submit(context.Background(), domain.SubmitParams{
		Workflow: wf, SubmittedBy: inspector(), ApproverIDs: []uuid.UUID{uuid.New()},
		FilledSteps: steps("1"), SubmissionDate: "2026-03-13T22:15:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 13, 22, 15, 0, 0, time.UTC), insp.CreatedAt)
}

func TestSubmit_ApproverResolution(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{})
	a, b, orgAdmin := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name      string
		submitter domain.Actor
		approvers []uuid.UUID
		want      []uuid.UUID
	}{
		{"duplicates removed in order", inspector(), []uuid.UUID{a, b, a, uuid.Nil, b}, []uuid.UUID{a, b}},
		{"approver submitter gets admin appended", approver(uuid.New()), []uuid.UUID{a}, []uuid.UUID{a, orgAdmin}},
		{"admin not duplicated", approver(uuid.New()), []uuid.UUID{orgAdmin, a}, []uuid.UUID{orgAdmin, a}},
		{"inspector gets no admin", inspector(), []uuid.UUID{b}, []uuid.UUID{b}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
				Workflow:            wf,
				SubmittedBy:         tt.submitter,
				ApproverIDs:         tt.approvers,
				OrganizationAdminID: orgAdmin,
				FilledSteps:         steps("1"),
			})
			require.NoError(t, err)

			var got []uuid.UUID
			for _, v := range insp.Approvers {
				assert.Equal(t, domain.DecisionPending, v.Decision)
				got = append(got, v.ApproverID)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want[0], insp.PrimaryApproverID())
		})
	}
}

func TestSubmit_FrequencyLimit(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{
		Enabled: true, FrequencyLimit: 2, FrequencyPeriod: domain.FrequencyDay,
	})
	submitter := inspector()

	submit := func() *domain.Inspection {
		insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
			Workflow: wf, SubmittedBy: submitter, ApproverIDs: []uuid.UUID{uuid.New()}, FilledSteps: steps("1"),
		})
		require.NoError(t, err)
		return insp
	}

	assert.Equal(t, domain.InspectionStatusAutoApproved, submit().Status)
	h.clock.Set(testNow.Add(time.Hour))
	assert.Equal(t, domain.InspectionStatusAutoApproved, submit().Status)

	third := submit()
	assert.Equal(t, domain.InspectionStatusPending, third.Status)
	assert.Contains(t, third.AutoApproval.Reason, "frequency limit reached")

	// The first approval falls out of the trailing day.
	h.clock.Set(testNow.Add(24*time.Hour + time.Minute))
	assert.Equal(t, domain.InspectionStatusAutoApproved, submit().Status)
}

func TestSubmit_InvalidRuleSetIsNotAnError(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{Enabled: true, TimeRangeStart: "8am"})

	insp := h.submit(t, wf, uuid.New())

	assert.Equal(t, domain.InspectionStatusPending, insp.Status)
	require.NotNil(t, insp.AutoApproval)
	assert.Contains(t, insp.AutoApproval.Reason, "invalid auto-approval rules")
}

func TestSubmit_BulkEnabledWaitsForBatch(t *testing.T) {
	h := newHarness(t)
	wf := h.workflow("Boiler Check", domain.AutoApprovalRuleSet{BulkApprovalEnabled: true})

	insp := h.submit(t, wf, uuid.New())

	assert.Equal(t, domain.InspectionStatusPending, insp.Status)
	assert.True(t, insp.BulkApprovalEnabled)
	assert.Nil(t, insp.BatchID)
	assert.Empty(t, h.notifier.ofType(notify.TypeInspectionSubmitted), "bulk work is announced per batch")
}

// =============================================================================
// CastVote
// =============================================================================

func TestCastVote_RejectionShortCircuit(t *testing.T) {
	h := newHarness(t)
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a1, a2, a3)

	got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: approver(a2), Decision: domain.DecisionRejected, Remarks: "failed safety check",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.InspectionStatusRejected, got.Status)
	assert.Equal(t, "failed safety check", got.RejectionReason)
	require.NotNil(t, got.RejectedBy)
	assert.Equal(t, a2, *got.RejectedBy)
	assert.NotNil(t, got.RejectedAt)

	v1, _ := got.Vote(a1)
	v3, _ := got.Vote(a3)
	assert.Equal(t, domain.DecisionPending, v1.Decision)
	assert.Equal(t, domain.DecisionPending, v3.Decision)

	_, err = h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: approver(a3), Decision: domain.DecisionApproved,
	})
	assert.True(t, domain.IsConflict(err), "a pending slot on a terminal inspection cannot vote")

	resolved := h.notifier.ofType(notify.TypeInspectionResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, "rejected", resolved[0].N.Status)
}

func TestCastVote_UnanimousApproval(t *testing.T) {
	h := newHarness(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), ids...)

	for i, id := range ids {
		got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
			InspectionID: insp.ID, Actor: approver(id), Decision: domain.DecisionApproved,
		})
		require.NoError(t, err)
		if i < len(ids)-1 {
			assert.Equal(t, domain.InspectionStatusPending, got.Status, "after %d of %d approvals", i+1, len(ids))
			assert.Nil(t, got.ApprovedAt)
		} else {
			assert.Equal(t, domain.InspectionStatusApproved, got.Status)
			require.NotNil(t, got.ApprovedBy)
			assert.Equal(t, id, *got.ApprovedBy)
		}
	}
}

func TestCastVote_AdminOverride(t *testing.T) {
	h := newHarness(t)
	a1, a2 := uuid.New(), uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a1, a2)

	boss := admin()
	got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: boss, Decision: domain.DecisionApproved,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.InspectionStatusApproved, got.Status)
	assert.Equal(t, boss.ID, *got.ApprovedBy)
	v1, _ := got.Vote(a1)
	assert.Equal(t, domain.DecisionPending, v1.Decision)
}

func TestCastVote_AdminRejectionLeavesRejectedVote(t *testing.T) {
	h := newHarness(t)
	a := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a)

	boss := admin()
	got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: boss, Decision: domain.DecisionRejected, Remarks: "bad",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusRejected, got.Status)

	stored, err := h.approvals.Get(context.Background(), insp.ID)
	require.NoError(t, err)
	vote, ok := stored.Vote(boss.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DecisionRejected, vote.Decision)
	assert.Equal(t, "bad", vote.Remarks)
	assert.Equal(t, a, stored.PrimaryApproverID())
}

func TestCastVote_ListedInspectorCanVote(t *testing.T) {
	h := newHarness(t)
	x := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), x)

	got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID,
		Actor:        domain.Actor{ID: x, Role: domain.RoleInspector},
		Decision:     domain.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusApproved, got.Status)
}

func TestCastVote_Idempotent(t *testing.T) {
	h := newHarness(t)
	a := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a)

	params := domain.CastVoteParams{InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionApproved, Remarks: "fine"}
	first, err := h.approvals.CastVote(context.Background(), params)
	require.NoError(t, err)

	h.clock.Set(testNow.Add(time.Hour))
	second, err := h.approvals.CastVote(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Approvers, second.Approvers)
	assert.Equal(t, first.ApprovedAt, second.ApprovedAt)
	assert.Equal(t, first.Version, second.Version, "no second write")

	// A different decision on a decided slot is absorbed too.
	params.Decision = domain.DecisionRejected
	params.Remarks = "changed my mind"
	third, err := h.approvals.CastVote(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusApproved, third.Status)

	assert.Len(t, h.notifier.ofType(notify.TypeInspectionResolved), 1)
}

func TestCastVote_Errors(t *testing.T) {
	h := newHarness(t)
	a := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a)

	tests := []struct {
		name     string
		params   domain.CastVoteParams
		wantCode string
	}{
		{
			name:     "unknown inspection",
			params:   domain.CastVoteParams{InspectionID: uuid.New(), Actor: approver(a), Decision: domain.DecisionApproved},
			wantCode: domain.ENOTFOUND,
		},
		{
			name:     "approver without a slot",
			params:   domain.CastVoteParams{InspectionID: insp.ID, Actor: approver(uuid.New()), Decision: domain.DecisionApproved},
			wantCode: domain.EFORBIDDEN,
		},
		{
			name:     "unlisted inspector",
			params:   domain.CastVoteParams{InspectionID: insp.ID, Actor: domain.Actor{ID: uuid.New(), Role: domain.RoleInspector}, Decision: domain.DecisionApproved},
			wantCode: domain.EFORBIDDEN,
		},
		{
			name:     "reject without remarks",
			params:   domain.CastVoteParams{InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionRejected, Remarks: "  "},
			wantCode: domain.EINVALID,
		},
		{
			name:     "pending is not a decision",
			params:   domain.CastVoteParams{InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionPending},
			wantCode: domain.EINVALID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.approvals.CastVote(context.Background(), tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}

	stored, err := h.approvals.Get(context.Background(), insp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusPending, stored.Status, "failed votes leave no trace")
}

func TestCastVote_AdminOnTerminalInspectionConflicts(t *testing.T) {
	h := newHarness(t)
	a := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a)

	_, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionApproved,
	})
	require.NoError(t, err)

	_, err = h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: admin(), Decision: domain.DecisionRejected, Remarks: "too late",
	})
	assert.True(t, domain.IsConflict(err))
}

func TestCastVote_RetriesStaleWrites(t *testing.T) {
	store := &staleStore{Store: memory.NewStore(), staleSaves: 2}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewApprovalService(store, notifier, logger, service.WithMaxRetries(3))

	a := uuid.New()
	insp, err := svc.Submit(context.Background(), domain.SubmitParams{
		Workflow:    domain.WorkflowSnapshot{ID: uuid.New(), OrganizationID: uuid.New(), Name: "Boiler Check"},
		SubmittedBy: inspector(),
		ApproverIDs: []uuid.UUID{a},
		FilledSteps: steps("1"),
	})
	require.NoError(t, err)

	got, err := svc.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusApproved, got.Status)

	store.staleSaves = 10
	other, err := svc.Submit(context.Background(), domain.SubmitParams{
		Workflow:    domain.WorkflowSnapshot{ID: uuid.New(), OrganizationID: uuid.New(), Name: "Boiler Check"},
		SubmittedBy: inspector(),
		ApproverIDs: []uuid.UUID{a},
		FilledSteps: steps("1"),
	})
	require.NoError(t, err)
	_, err = svc.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: other.ID, Actor: approver(a), Decision: domain.DecisionApproved,
	})
	assert.True(t, domain.IsConflict(err))
}

func TestCastVote_ConcurrentApprovalsFinalizeOnce(t *testing.T) {
	h := newHarness(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), ids...)

	svc := service.NewApprovalService(h.store, h.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)),
		service.WithMaxRetries(50))

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.CastVote(context.Background(), domain.CastVoteParams{
				InspectionID: insp.ID, Actor: approver(id), Decision: domain.DecisionApproved,
			})
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := h.approvals.Get(context.Background(), insp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusApproved, got.Status)
	assert.True(t, got.AllApproved())
	assert.Len(t, h.notifier.ofType(notify.TypeInspectionResolved), 1, "finalized exactly once")
}

func TestCastVote_NotificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("broker unavailable")
	a := uuid.New()
	insp := h.submit(t, h.workflow("Boiler Check", domain.AutoApprovalRuleSet{}), a)

	got, err := h.approvals.CastVote(context.Background(), domain.CastVoteParams{
		InspectionID: insp.ID, Actor: approver(a), Decision: domain.DecisionRejected, Remarks: "leak",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusRejected, got.Status)

	stored, err := h.approvals.Get(context.Background(), insp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusRejected, stored.Status)
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.approvals.Get(context.Background(), uuid.New())
	assert.True(t, domain.IsNotFound(err))
}
