package service

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/google/uuid"
)

// Store-level sentinel errors. Services translate them into domain errors.
var (
	// ErrNotFound is returned when no inspection has the requested id.
	ErrNotFound = errors.New("inspection not found")

	// ErrStale is returned by Save when the stored version no longer
	// matches the version the caller read.
	ErrStale = errors.New("inspection was modified concurrently")
)

// InspectionStore is the persistence contract of the approval engine.
//
// Every write that changes status or a vote is conditional: Save compares
// versions, ClaimForBatch compares status, and UpdateBatch locks the
// members it rewrites.
//
// Implementations:
// - repository.Store: PostgreSQL
// - memory.Store: in-process maps, for development and tests
type InspectionStore interface {
	// Create inserts a new inspection and sets its Version to 1.
	Create(ctx context.Context, insp *domain.Inspection) error

	// Get returns the inspection or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error)

	// Save writes insp if the stored version equals insp.Version, then
	// increments insp.Version. Returns ErrStale or ErrNotFound otherwise.
	Save(ctx context.Context, insp *domain.Inspection) error

	// CountAutoApproved counts auto-approved submissions by submitter on
	// workflow created at or after since.
	CountAutoApproved(ctx context.Context, submitter, workflowID uuid.UUID, since time.Time) (int, error)

	// ListOrganizationsWithCandidates returns organizations that have at
	// least one pending, untagged, bulk-enabled inspection.
	ListOrganizationsWithCandidates(ctx context.Context) ([]uuid.UUID, error)

	// ListGroupingCandidates returns the pending, untagged, bulk-enabled
	// inspections of an organization ordered by submission time.
	ListGroupingCandidates(ctx context.Context, orgID uuid.UUID) ([]*domain.Inspection, error)

	// ClaimForBatch tags ids with batchID and moves them to pending-bulk,
	// but only those still pending and untagged at the moment of the
	// write. It returns the ids actually claimed.
	ClaimForBatch(ctx context.Context, ids []uuid.UUID, batchID string, now time.Time) ([]uuid.UUID, error)

	// ListBatchMembers returns every member of the organization's batches
	// that still have a pending-bulk member. A non-nil approverID limits
	// the result to batches routed to that approver.
	ListBatchMembers(ctx context.Context, orgID uuid.UUID, approverID *uuid.UUID) ([]*domain.Inspection, error)

	// GetBatch returns every member of the batch, ordered by submission.
	GetBatch(ctx context.Context, batchID string) ([]*domain.Inspection, error)

	// UpdateBatch applies fn to every pending-bulk member of the batch as
	// one atomic unit and persists the members for which fn returns true.
	// It returns the number of persisted members.
	UpdateBatch(ctx context.Context, batchID string, fn func(*domain.Inspection) bool) (int, error)

	// ClearBatchTags unsets batch_id on terminal inspections last updated
	// before olderThan. Status, votes and updated_at are left untouched.
	ClearBatchTags(ctx context.Context, olderThan time.Time) (int64, error)
}
