// Package domain contains core business types and interfaces.
//
// This file defines the Inspection domain type, its approval votes and the
// transitions of the approval state machine. Transitions are pure: they
// mutate the in-memory value and leave persistence to the caller, which
// saves the result with a compare-and-set on Version.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Inspection Status
// =============================================================================

// InspectionStatus represents the approval state of an inspection.
type InspectionStatus string

const (
	// InspectionStatusPending is the initial state: waiting on votes, or on
	// the next grouping sweep when the workflow allows bulk approval.
	InspectionStatusPending InspectionStatus = "pending"

	// InspectionStatusPendingBulk marks an inspection claimed into a batch.
	InspectionStatusPendingBulk InspectionStatus = "pending-bulk"

	// InspectionStatusApproved is terminal.
	InspectionStatusApproved InspectionStatus = "approved"

	// InspectionStatusRejected is terminal.
	InspectionStatusRejected InspectionStatus = "rejected"

	// InspectionStatusAutoApproved is terminal and only set at submission.
	InspectionStatusAutoApproved InspectionStatus = "auto-approved"
)

// String returns the string representation of the status.
func (s InspectionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s InspectionStatus) IsValid() bool {
	switch s {
	case InspectionStatusPending, InspectionStatusPendingBulk,
		InspectionStatusApproved, InspectionStatusRejected, InspectionStatusAutoApproved:
		return true
	}
	return false
}

// IsTerminal returns true if no transition leaves the status.
func (s InspectionStatus) IsTerminal() bool {
	switch s {
	case InspectionStatusApproved, InspectionStatusRejected, InspectionStatusAutoApproved:
		return true
	}
	return false
}

// TerminalStatuses lists every terminal status.
func TerminalStatuses() []InspectionStatus {
	return []InspectionStatus{
		InspectionStatusApproved,
		InspectionStatusRejected,
		InspectionStatusAutoApproved,
	}
}

// CanTransitionTo checks if the inspection can transition to the target status.
//
// Valid transitions:
// - pending -> approved, rejected, auto-approved, pending-bulk
// - pending-bulk -> approved, rejected
func (s InspectionStatus) CanTransitionTo(target InspectionStatus) bool {
	switch s {
	case InspectionStatusPending:
		switch target {
		case InspectionStatusApproved, InspectionStatusRejected,
			InspectionStatusAutoApproved, InspectionStatusPendingBulk:
			return true
		}
	case InspectionStatusPendingBulk:
		return target == InspectionStatusApproved || target == InspectionStatusRejected
	}
	return false
}

// =============================================================================
// Votes
// =============================================================================

// Decision is one approver's stance on one inspection.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	return string(d)
}

// IsValid returns true if the decision is a recognized value.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return true
	}
	return false
}

// ApprovalVote is one approver's decision record. DecidedAt is set once,
// on the first non-pending decision.
type ApprovalVote struct {
	ApproverID uuid.UUID  `json:"approver_id"`
	Decision   Decision   `json:"decision"`
	Remarks    string     `json:"remarks,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// IsDecided returns true once the vote left pending.
func (v ApprovalVote) IsDecided() bool {
	return v.Decision != DecisionPending
}

// FilledStep is one answered workflow step.
type FilledStep struct {
	StepID       string    `json:"step_id"`
	ResponseText string    `json:"response_text"`
	MediaURLs    []string  `json:"media_urls,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// HasMedia returns true if the step carries at least one media URL.
func (s FilledStep) HasMedia() bool {
	for _, u := range s.MediaURLs {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}

// Evaluation records the outcome of an auto-approval rule evaluation.
type Evaluation struct {
	Eligible    bool      `json:"eligible"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// =============================================================================
// Inspection Domain Type
// =============================================================================

// Inspection is one submitted, filled-in instance of a workflow.
type Inspection struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	WorkflowID     uuid.UUID
	WorkflowName   string // Copied from the workflow at submission
	Category       string // Copied from the workflow at submission
	SubmittedBy    uuid.UUID

	// BulkApprovalEnabled is the workflow flag captured at submission.
	BulkApprovalEnabled bool

	FilledSteps  []FilledStep
	MeterReading *float64

	Status          InspectionStatus
	Approvers       []ApprovalVote
	BatchID         *string
	RejectionReason string
	ApprovedBy      *uuid.UUID
	RejectedBy      *uuid.UUID
	AutoApproval    *Evaluation

	CreatedAt  time.Time
	ApprovedAt *time.Time
	RejectedAt *time.Time
	UpdatedAt  time.Time

	// Version is the optimistic concurrency token; stores increment it on
	// every successful write.
	Version int64
}

// PrimaryApproverID is the legacy single-approver reference. It is derived
// from the approver list, so it is always one of its members.
func (i *Inspection) PrimaryApproverID() uuid.UUID {
	if len(i.Approvers) == 0 {
		return uuid.Nil
	}
	return i.Approvers[0].ApproverID
}

// HasApprover returns true if id holds a vote slot.
func (i *Inspection) HasApprover(id uuid.UUID) bool {
	return i.voteIndex(id) >= 0
}

// Vote returns the vote slot for id.
func (i *Inspection) Vote(id uuid.UUID) (ApprovalVote, bool) {
	idx := i.voteIndex(id)
	if idx < 0 {
		return ApprovalVote{}, false
	}
	return i.Approvers[idx], true
}

// AllApproved returns true when every vote reads approved.
func (i *Inspection) AllApproved() bool {
	if len(i.Approvers) == 0 {
		return false
	}
	for _, v := range i.Approvers {
		if v.Decision != DecisionApproved {
			return false
		}
	}
	return true
}

// InBatch returns true if the inspection carries a batch tag.
func (i *Inspection) InBatch() bool {
	return i.BatchID != nil && *i.BatchID != ""
}

// CanJoinBatch reports whether a grouping sweep may claim the inspection.
func (i *Inspection) CanJoinBatch() bool {
	return i.Status == InspectionStatusPending && i.BulkApprovalEnabled && !i.InBatch()
}

// SubmissionDay truncates CreatedAt to midnight in loc.
func (i *Inspection) SubmissionDay(loc *time.Location) time.Time {
	t := i.CreatedAt.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Clone returns a deep copy that shares no slices or pointers with i.
func (i *Inspection) Clone() *Inspection {
	c := *i
	c.FilledSteps = make([]FilledStep, len(i.FilledSteps))
	for idx, s := range i.FilledSteps {
		s.MediaURLs = append([]string(nil), s.MediaURLs...)
		c.FilledSteps[idx] = s
	}
	c.Approvers = make([]ApprovalVote, len(i.Approvers))
	for idx, v := range i.Approvers {
		v.DecidedAt = cloneTime(v.DecidedAt)
		c.Approvers[idx] = v
	}
	if i.MeterReading != nil {
		m := *i.MeterReading
		c.MeterReading = &m
	}
	if i.BatchID != nil {
		b := *i.BatchID
		c.BatchID = &b
	}
	if i.ApprovedBy != nil {
		a := *i.ApprovedBy
		c.ApprovedBy = &a
	}
	if i.RejectedBy != nil {
		r := *i.RejectedBy
		c.RejectedBy = &r
	}
	if i.AutoApproval != nil {
		e := *i.AutoApproval
		c.AutoApproval = &e
	}
	c.ApprovedAt = cloneTime(i.ApprovedAt)
	c.RejectedAt = cloneTime(i.RejectedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (i *Inspection) voteIndex(id uuid.UUID) int {
	for idx, v := range i.Approvers {
		if v.ApproverID == id {
			return idx
		}
	}
	return -1
}

// =============================================================================
// Transitions
// =============================================================================

// VoteOutcome describes what ApplyVote did.
type VoteOutcome int

const (
	// VoteUnchanged means the actor's slot already carried a decision.
	VoteUnchanged VoteOutcome = iota
	// VoteRecorded means the vote was stored but the status did not move.
	VoteRecorded
	// VoteFinalized means the inspection reached approved or rejected.
	VoteFinalized
)

// AutoApprovedRemark is written on every vote of an auto-approved inspection.
const AutoApprovedRemark = "Automatically approved: all auto-approval criteria met"

// ApplyVote records actor's decision and derives the inspection status.
//
// One rejection is terminal. Approval needs every vote, unless the actor is
// an admin, whose approval finalizes on its own. A slot that already holds
// a decision is left untouched and the call succeeds. An admin rejecting
// without a slot gets a rejected vote appended.
func (i *Inspection) ApplyVote(actor Actor, decision Decision, remarks string, now time.Time) (VoteOutcome, error) {
	const op = "inspection.apply_vote"

	if decision != DecisionApproved && decision != DecisionRejected {
		return VoteUnchanged, Invalid(op, "decision must be approved or rejected")
	}
	if !CanVote(actor, i) {
		return VoteUnchanged, Forbidden(op, "actor is not an approver of this inspection")
	}

	idx := i.voteIndex(actor.ID)
	if idx >= 0 && i.Approvers[idx].IsDecided() {
		return VoteUnchanged, nil
	}
	if i.Status.IsTerminal() {
		return VoteUnchanged, Conflict(op, "inspection is already "+i.Status.String())
	}

	remarks = strings.TrimSpace(remarks)
	if decision == DecisionRejected && remarks == "" {
		return VoteUnchanged, Invalid(op, "remarks are required when rejecting")
	}

	i.UpdatedAt = now

	if decision == DecisionRejected {
		i.recordRejection(actor.ID, remarks, now)
		i.markRejected(actor.ID, remarks, now)
		return VoteFinalized, nil
	}
	if idx >= 0 {
		decidedAt := now
		i.Approvers[idx].Decision = decision
		i.Approvers[idx].Remarks = remarks
		i.Approvers[idx].DecidedAt = &decidedAt
	}
	if actor.IsAdmin() || i.AllApproved() {
		i.markApproved(actor.ID, now)
		return VoteFinalized, nil
	}
	return VoteRecorded, nil
}

// AutoApprove finalizes a freshly submitted inspection without human votes.
func (i *Inspection) AutoApprove(eval Evaluation) {
	now := eval.EvaluatedAt
	for idx := range i.Approvers {
		decidedAt := now
		i.Approvers[idx].Decision = DecisionApproved
		i.Approvers[idx].Remarks = AutoApprovedRemark
		i.Approvers[idx].DecidedAt = &decidedAt
	}
	i.Status = InspectionStatusAutoApproved
	i.ApprovedAt = &now
	i.UpdatedAt = now
}

// ApproveInBatch moves a pending-bulk member to approved. The actor's own
// vote is updated when present and still pending. Returns false if the
// member already left pending-bulk.
func (i *Inspection) ApproveInBatch(actor Actor, remarks string, now time.Time) bool {
	if i.Status != InspectionStatusPendingBulk {
		return false
	}
	i.decideOwnVote(actor.ID, DecisionApproved, remarks, now)
	i.markApproved(actor.ID, now)
	i.UpdatedAt = now
	return true
}

// RejectInBatch moves a pending-bulk member to rejected. Returns false if
// the member already left pending-bulk.
func (i *Inspection) RejectInBatch(actor Actor, remarks string, now time.Time) bool {
	if i.Status != InspectionStatusPendingBulk {
		return false
	}
	remarks = strings.TrimSpace(remarks)
	i.recordRejection(actor.ID, remarks, now)
	i.markRejected(actor.ID, remarks, now)
	i.UpdatedAt = now
	return true
}

// recordRejection writes the rejecting vote so a rejected inspection always
// carries one. An actor without a slot (an admin) gets one appended; a slot
// already approved in a batch is overturned.
func (i *Inspection) recordRejection(id uuid.UUID, remarks string, now time.Time) {
	decidedAt := now
	vote := ApprovalVote{ApproverID: id, Decision: DecisionRejected, Remarks: remarks, DecidedAt: &decidedAt}

	idx := i.voteIndex(id)
	if idx < 0 {
		i.Approvers = append(i.Approvers, vote)
		return
	}
	if i.Approvers[idx].Decision != DecisionRejected {
		i.Approvers[idx] = vote
	}
}

func (i *Inspection) decideOwnVote(id uuid.UUID, d Decision, remarks string, now time.Time) {
	idx := i.voteIndex(id)
	if idx < 0 || i.Approvers[idx].IsDecided() {
		return
	}
	decidedAt := now
	i.Approvers[idx].Decision = d
	i.Approvers[idx].Remarks = strings.TrimSpace(remarks)
	i.Approvers[idx].DecidedAt = &decidedAt
}

func (i *Inspection) markApproved(by uuid.UUID, now time.Time) {
	approver := by
	i.Status = InspectionStatusApproved
	i.ApprovedBy = &approver
	i.ApprovedAt = &now
}

func (i *Inspection) markRejected(by uuid.UUID, reason string, now time.Time) {
	rejecter := by
	i.Status = InspectionStatusRejected
	i.RejectedBy = &rejecter
	i.RejectedAt = &now
	i.RejectionReason = reason
}

// =============================================================================
// Service Parameters
// =============================================================================

// SubmitParams contains the input of a submission.
type SubmitParams struct {
	Workflow    WorkflowSnapshot
	SubmittedBy Actor

	// ApproverIDs are de-duplicated; uuid.Nil entries are ignored.
	ApproverIDs []uuid.UUID

	// OrganizationAdminID is appended as a supervisory approver when the
	// submitter is approver-class.
	OrganizationAdminID uuid.UUID

	FilledSteps  []FilledStep
	MeterReading *float64

	// SubmissionDate accepts RFC 3339 or "2006-01-02". Empty means now.
	SubmissionDate string

	// RequestAutoApproval asks for rule evaluation even when the workflow
	// does not enable auto-approval by default.
	RequestAutoApproval bool
}

// CastVoteParams contains the input of a vote.
type CastVoteParams struct {
	InspectionID uuid.UUID
	Actor        Actor
	Decision     Decision
	Remarks      string
}
