package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// batchNamespace seeds the name-based UUIDs used in batch identifiers.
var batchNamespace = uuid.MustParse("6f1c8a52-3d0e-4b8e-9a53-2f3c1d7e9b40")

// BatchKey is the composite key grouping inspections into one batch.
type BatchKey struct {
	WorkflowID uuid.UUID
	ApproverID uuid.UUID
	Day        time.Time // Midnight of the submission day
}

// String renders the key for logs.
func (k BatchKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.WorkflowID, k.ApproverID, k.Day.Format("2006-01-02"))
}

// NewBatchID derives a batch identifier from the key and the generation
// time, so a later day's batch for the same key never reuses an old id.
func NewBatchID(key BatchKey, generatedAt time.Time) string {
	name := fmt.Sprintf("%s|%s|%s|%d",
		key.WorkflowID, key.ApproverID, key.Day.Format("2006-01-02"), generatedAt.UnixNano())
	return fmt.Sprintf("batch-%s-%s",
		key.Day.Format("20060102"), uuid.NewSHA1(batchNamespace, []byte(name)).String()[:13])
}

// BatchStatus is the derived state of a batch as a whole.
type BatchStatus string

const (
	BatchStatusPending  BatchStatus = "bulk-pending"
	BatchStatusApproved BatchStatus = "bulk-approved"
	BatchStatusRejected BatchStatus = "bulk-rejected"
	// BatchStatusMixed appears when members were resolved individually.
	BatchStatusMixed BatchStatus = "mixed"
)

// BatchSummary is the read-only projection returned by ListBatches.
type BatchSummary struct {
	BatchID      string
	WorkflowID   uuid.UUID
	WorkflowName string
	ApproverID   uuid.UUID
	Count        int
	PendingCount int
	FirstAt      time.Time
	LastAt       time.Time
	Status       BatchStatus
}

// BatchMember is one inspection of a batch with its vote states.
type BatchMember struct {
	InspectionID uuid.UUID
	SubmittedBy  uuid.UUID
	Status       InspectionStatus
	Votes        []ApprovalVote
	CreatedAt    time.Time
}

// BatchDetail is the projection returned by GetBatch.
type BatchDetail struct {
	BatchSummary
	Members []BatchMember
}

// SummarizeBatch folds members sharing one batch id into a summary.
// It returns false for an empty slice.
func SummarizeBatch(members []*Inspection) (BatchSummary, bool) {
	if len(members) == 0 {
		return BatchSummary{}, false
	}
	first := members[0]
	s := BatchSummary{
		WorkflowID:   first.WorkflowID,
		WorkflowName: first.WorkflowName,
		ApproverID:   first.PrimaryApproverID(),
		FirstAt:      first.CreatedAt,
		LastAt:       first.CreatedAt,
	}
	if first.BatchID != nil {
		s.BatchID = *first.BatchID
	}

	var approved, rejected int
	for _, m := range members {
		s.Count++
		switch m.Status {
		case InspectionStatusPendingBulk:
			s.PendingCount++
		case InspectionStatusApproved, InspectionStatusAutoApproved:
			approved++
		case InspectionStatusRejected:
			rejected++
		}
		if m.CreatedAt.Before(s.FirstAt) {
			s.FirstAt = m.CreatedAt
		}
		if m.CreatedAt.After(s.LastAt) {
			s.LastAt = m.CreatedAt
		}
	}

	switch {
	case s.PendingCount == s.Count:
		s.Status = BatchStatusPending
	case approved == s.Count:
		s.Status = BatchStatusApproved
	case rejected == s.Count:
		s.Status = BatchStatusRejected
	default:
		s.Status = BatchStatusMixed
	}
	return s, true
}

// NewBatchDetail builds the detail projection, members ordered by submission.
func NewBatchDetail(members []*Inspection) (*BatchDetail, bool) {
	summary, ok := SummarizeBatch(members)
	if !ok {
		return nil, false
	}
	d := &BatchDetail{BatchSummary: summary}
	for _, m := range members {
		votes := make([]ApprovalVote, len(m.Approvers))
		copy(votes, m.Approvers)
		d.Members = append(d.Members, BatchMember{
			InspectionID: m.ID,
			SubmittedBy:  m.SubmittedBy,
			Status:       m.Status,
			Votes:        votes,
			CreatedAt:    m.CreatedAt,
		})
	}
	sort.Slice(d.Members, func(a, b int) bool {
		return d.Members[a].CreatedAt.Before(d.Members[b].CreatedAt)
	})
	return d, true
}

// GroupingResult is the outcome of one organization's grouping pass.
type GroupingResult struct {
	OrganizationID     uuid.UUID
	BatchesFormed      int
	InspectionsGrouped int
}

// SweepReport aggregates a grouping sweep over every organization.
type SweepReport struct {
	Organizations      int
	Failed             int
	BatchesFormed      int
	InspectionsGrouped int
}
