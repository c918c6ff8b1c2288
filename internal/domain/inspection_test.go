package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newPendingInspection(approvers ...uuid.UUID) *Inspection {
	insp := &Inspection{
		ID:        uuid.New(),
		Status:    InspectionStatusPending,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
	for _, id := range approvers {
		insp.Approvers = append(insp.Approvers, ApprovalVote{ApproverID: id, Decision: DecisionPending})
	}
	return insp
}

func TestInspectionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from InspectionStatus
		to   InspectionStatus
		want bool
	}{
		{"pending to approved", InspectionStatusPending, InspectionStatusApproved, true},
		{"pending to rejected", InspectionStatusPending, InspectionStatusRejected, true},
		{"pending to auto-approved", InspectionStatusPending, InspectionStatusAutoApproved, true},
		{"pending to pending-bulk", InspectionStatusPending, InspectionStatusPendingBulk, true},
		{"pending-bulk to approved", InspectionStatusPendingBulk, InspectionStatusApproved, true},
		{"pending-bulk to rejected", InspectionStatusPendingBulk, InspectionStatusRejected, true},

		{"pending-bulk to auto-approved", InspectionStatusPendingBulk, InspectionStatusAutoApproved, false},
		{"pending-bulk to pending", InspectionStatusPendingBulk, InspectionStatusPending, false},
		{"approved to rejected", InspectionStatusApproved, InspectionStatusRejected, false},
		{"rejected to approved", InspectionStatusRejected, InspectionStatusApproved, false},
		{"auto-approved to pending", InspectionStatusAutoApproved, InspectionStatusPending, false},
		{"approved to pending-bulk", InspectionStatusApproved, InspectionStatusPendingBulk, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestInspectionStatus_IsTerminal(t *testing.T) {
	assert.False(t, InspectionStatusPending.IsTerminal())
	assert.False(t, InspectionStatusPendingBulk.IsTerminal())
	for _, s := range TerminalStatuses() {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, InspectionStatus("archived").IsValid())
}

func TestInspection_PrimaryApproverIsFirstVote(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	insp := newPendingInspection(a, b)
	assert.Equal(t, a, insp.PrimaryApproverID())
	assert.True(t, insp.HasApprover(insp.PrimaryApproverID()))

	empty := &Inspection{}
	assert.Equal(t, uuid.Nil, empty.PrimaryApproverID())
}

func TestApplyVote_SingleRejectionIsTerminal(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	insp := newPendingInspection(a, b, c)

	outcome, err := insp.ApplyVote(Actor{ID: b, Role: RoleApprover}, DecisionRejected, "failed safety check", testNow)
	require.NoError(t, err)

	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusRejected, insp.Status)
	assert.Equal(t, "failed safety check", insp.RejectionReason)
	require.NotNil(t, insp.RejectedAt)
	assert.Equal(t, testNow, *insp.RejectedAt)
	require.NotNil(t, insp.RejectedBy)
	assert.Equal(t, b, *insp.RejectedBy)

	third, _ := insp.Vote(c)
	assert.Equal(t, DecisionPending, third.Decision)
	assert.Nil(t, third.DecidedAt)
}

func TestApplyVote_UnanimousApprovalRequired(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	insp := newPendingInspection(a, b, c)

	for i, id := range []uuid.UUID{a, b} {
		outcome, err := insp.ApplyVote(Actor{ID: id, Role: RoleApprover}, DecisionApproved, "", testNow)
		require.NoError(t, err, "vote %d", i)
		assert.Equal(t, VoteRecorded, outcome)
		assert.Equal(t, InspectionStatusPending, insp.Status)
		assert.Nil(t, insp.ApprovedAt)
	}

	outcome, err := insp.ApplyVote(Actor{ID: c, Role: RoleApprover}, DecisionApproved, "ok", testNow)
	require.NoError(t, err)
	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusApproved, insp.Status)
	assert.True(t, insp.AllApproved())
	require.NotNil(t, insp.ApprovedBy)
	assert.Equal(t, c, *insp.ApprovedBy)
}

func TestApplyVote_AdminOverride(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	admin := Actor{ID: uuid.New(), Role: RoleAdmin}
	insp := newPendingInspection(a, b)

	outcome, err := insp.ApplyVote(admin, DecisionApproved, "", testNow)
	require.NoError(t, err)

	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusApproved, insp.Status)
	first, _ := insp.Vote(a)
	assert.Equal(t, DecisionPending, first.Decision, "other votes stay untouched")
}

func TestApplyVote_AdminOverrideFromPendingBulk(t *testing.T) {
	a := uuid.New()
	insp := newPendingInspection(a)
	insp.Status = InspectionStatusPendingBulk

	outcome, err := insp.ApplyVote(Actor{ID: a, Role: RoleApprover}, DecisionApproved, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusApproved, insp.Status)
}

func TestApplyVote_ListedSlotVotesWhateverTheRole(t *testing.T) {
	a := uuid.New()
	insp := newPendingInspection(a)

	outcome, err := insp.ApplyVote(Actor{ID: a, Role: RoleInspector}, DecisionApproved, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusApproved, insp.Status)
}

// rejectedVotes counts votes reading rejected; a rejected inspection must
// carry at least one.
func rejectedVotes(insp *Inspection) int {
	n := 0
	for _, v := range insp.Approvers {
		if v.Decision == DecisionRejected {
			n++
		}
	}
	return n
}

func TestApplyVote_AdminRejectionIsRecorded(t *testing.T) {
	a := uuid.New()
	admin := Actor{ID: uuid.New(), Role: RoleAdmin}
	insp := newPendingInspection(a)

	outcome, err := insp.ApplyVote(admin, DecisionRejected, " bad gauge ", testNow)
	require.NoError(t, err)
	assert.Equal(t, VoteFinalized, outcome)
	assert.Equal(t, InspectionStatusRejected, insp.Status)
	assert.Equal(t, 1, rejectedVotes(insp))

	vote, ok := insp.Vote(admin.ID)
	require.True(t, ok, "the admin gets a slot")
	assert.Equal(t, "bad gauge", vote.Remarks)
	require.NotNil(t, vote.DecidedAt)
	assert.Equal(t, a, insp.PrimaryApproverID(), "the appended slot does not reroute the inspection")

	first, _ := insp.Vote(a)
	assert.Equal(t, DecisionPending, first.Decision)
}

func TestApplyVote_Idempotent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	insp := newPendingInspection(a, b)
	actor := Actor{ID: a, Role: RoleApprover}

	_, err := insp.ApplyVote(actor, DecisionRejected, "broken seal", testNow)
	require.NoError(t, err)
	snapshot := *insp
	snapshotVotes := append([]ApprovalVote(nil), insp.Approvers...)

	later := testNow.Add(time.Minute)
	outcome, err := insp.ApplyVote(actor, DecisionRejected, "broken seal", later)
	require.NoError(t, err)
	assert.Equal(t, VoteUnchanged, outcome)
	assert.Equal(t, snapshot.Status, insp.Status)
	assert.Equal(t, snapshot.UpdatedAt, insp.UpdatedAt)
	assert.Equal(t, snapshotVotes, insp.Approvers)

	outcome, err = insp.ApplyVote(actor, DecisionApproved, "", later)
	require.NoError(t, err, "a different decision is absorbed as a no-op")
	assert.Equal(t, VoteUnchanged, outcome)
	assert.Equal(t, InspectionStatusRejected, insp.Status)
}

func TestApplyVote_Errors(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name     string
		setup    func(*Inspection)
		actor    Actor
		decision Decision
		remarks  string
		wantCode string
	}{
		{
			name:     "stranger is forbidden",
			actor:    Actor{ID: uuid.New(), Role: RoleApprover},
			decision: DecisionApproved,
			wantCode: EFORBIDDEN,
		},
		{
			name:     "pending is not a decision",
			actor:    Actor{ID: a, Role: RoleApprover},
			decision: DecisionPending,
			wantCode: EINVALID,
		},
		{
			name:     "rejection needs remarks",
			actor:    Actor{ID: a, Role: RoleApprover},
			decision: DecisionRejected,
			remarks:  "   ",
			wantCode: EINVALID,
		},
		{
			name: "pending slot on a terminal inspection conflicts",
			setup: func(i *Inspection) {
				_, _ = i.ApplyVote(Actor{ID: a, Role: RoleApprover}, DecisionRejected, "no", testNow)
			},
			actor:    Actor{ID: b, Role: RoleApprover},
			decision: DecisionApproved,
			wantCode: ECONFLICT,
		},
		{
			name: "admin without slot on a terminal inspection conflicts",
			setup: func(i *Inspection) {
				i.Status = InspectionStatusAutoApproved
			},
			actor:    Actor{ID: uuid.New(), Role: RoleAdmin},
			decision: DecisionRejected,
			remarks:  "late",
			wantCode: ECONFLICT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insp := newPendingInspection(a, b)
			if tt.setup != nil {
				tt.setup(insp)
			}
			before := insp.Status

			_, err := insp.ApplyVote(tt.actor, tt.decision, tt.remarks, testNow)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ErrorCode(err))
			assert.Equal(t, before, insp.Status)
		})
	}
}

func TestAutoApprove_MarksEveryVote(t *testing.T) {
	insp := newPendingInspection(uuid.New(), uuid.New())
	insp.AutoApprove(Evaluation{Eligible: true, Reason: "all criteria met", EvaluatedAt: testNow})

	assert.Equal(t, InspectionStatusAutoApproved, insp.Status)
	require.NotNil(t, insp.ApprovedAt)
	for _, v := range insp.Approvers {
		assert.Equal(t, DecisionApproved, v.Decision)
		assert.Equal(t, AutoApprovedRemark, v.Remarks)
		require.NotNil(t, v.DecidedAt)
	}
}

func TestApproveInBatch(t *testing.T) {
	approver := uuid.New()
	other := uuid.New()
	actor := Actor{ID: approver, Role: RoleApprover}

	insp := newPendingInspection(approver, other)
	insp.Status = InspectionStatusPendingBulk

	assert.True(t, insp.ApproveInBatch(actor, "looks fine", testNow))
	assert.Equal(t, InspectionStatusApproved, insp.Status)
	own, _ := insp.Vote(approver)
	assert.Equal(t, DecisionApproved, own.Decision)
	assert.Equal(t, "looks fine", own.Remarks)
	rest, _ := insp.Vote(other)
	assert.Equal(t, DecisionPending, rest.Decision)

	assert.False(t, insp.ApproveInBatch(actor, "again", testNow), "resolved members are skipped")
}

func TestRejectInBatch(t *testing.T) {
	approver := uuid.New()
	actor := Actor{ID: approver, Role: RoleApprover}

	insp := newPendingInspection(approver)
	assert.False(t, insp.RejectInBatch(actor, "nope", testNow), "pending members are not batch members")

	insp.Status = InspectionStatusPendingBulk
	assert.True(t, insp.RejectInBatch(actor, "nope", testNow))
	assert.Equal(t, InspectionStatusRejected, insp.Status)
	assert.Equal(t, "nope", insp.RejectionReason)
	require.NotNil(t, insp.RejectedAt)
	assert.Equal(t, 1, rejectedVotes(insp))
}

func TestRejectInBatch_RecordsRejectingVote(t *testing.T) {
	tests := []struct {
		name  string
		setup func(insp *Inspection, primary uuid.UUID)
		actor func(primary uuid.UUID) Actor
	}{
		{
			name:  "admin without slot",
			setup: func(*Inspection, uuid.UUID) {},
			actor: func(uuid.UUID) Actor { return Actor{ID: uuid.New(), Role: RoleAdmin} },
		},
		{
			name: "primary approver who had already approved",
			setup: func(insp *Inspection, primary uuid.UUID) {
				_, _ = insp.ApplyVote(Actor{ID: primary, Role: RoleApprover}, DecisionApproved, "", testNow)
			},
			actor: func(primary uuid.UUID) Actor { return Actor{ID: primary, Role: RoleApprover} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := uuid.New()
			insp := newPendingInspection(primary, uuid.New())
			tt.setup(insp, primary)
			insp.Status = InspectionStatusPendingBulk
			actor := tt.actor(primary)

			require.True(t, insp.RejectInBatch(actor, "wrong meter model", testNow))
			assert.Equal(t, InspectionStatusRejected, insp.Status)
			assert.Equal(t, 1, rejectedVotes(insp))

			vote, ok := insp.Vote(actor.ID)
			require.True(t, ok)
			assert.Equal(t, DecisionRejected, vote.Decision)
			assert.Equal(t, "wrong meter model", vote.Remarks)
		})
	}
}

func TestCanJoinBatch(t *testing.T) {
	batch := "batch-1"
	tests := []struct {
		name string
		insp Inspection
		want bool
	}{
		{"pending bulk-enabled", Inspection{Status: InspectionStatusPending, BulkApprovalEnabled: true}, true},
		{"bulk disabled", Inspection{Status: InspectionStatusPending}, false},
		{"already tagged", Inspection{Status: InspectionStatusPending, BulkApprovalEnabled: true, BatchID: &batch}, false},
		{"already approved", Inspection{Status: InspectionStatusApproved, BulkApprovalEnabled: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.insp.CanJoinBatch())
		})
	}
}

func TestSubmissionDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	insp := &Inspection{CreatedAt: time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)}

	day := insp.SubmissionDay(loc)
	assert.Equal(t, 14, day.Day(), "02:00 UTC is still the 14th at UTC-5")
	assert.Equal(t, 0, day.Hour())
}
