package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const inspectionColumns = `id, organization_id, workflow_id, workflow_name, category, submitted_by,
	bulk_approval_enabled, filled_steps, meter_reading, status, approvers, primary_approver_id,
	batch_id, rejection_reason, approved_by, rejected_by, auto_approval,
	created_at, approved_at, rejected_at, updated_at, version`

func scanInspection(row interface{ Scan(...interface{}) error }) (Inspection, error) {
	var i Inspection
	err := row.Scan(
		&i.ID,
		&i.OrganizationID,
		&i.WorkflowID,
		&i.WorkflowName,
		&i.Category,
		&i.SubmittedBy,
		&i.BulkApprovalEnabled,
		&i.FilledSteps,
		&i.MeterReading,
		&i.Status,
		&i.Approvers,
		&i.PrimaryApproverID,
		&i.BatchID,
		&i.RejectionReason,
		&i.ApprovedBy,
		&i.RejectedBy,
		&i.AutoApproval,
		&i.CreatedAt,
		&i.ApprovedAt,
		&i.RejectedAt,
		&i.UpdatedAt,
		&i.Version,
	)
	return i, err
}

func (q *Queries) queryInspections(ctx context.Context, query string, args ...interface{}) ([]Inspection, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Inspection
	for rows.Next() {
		i, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createInspection = `-- name: CreateInspection :exec
INSERT INTO inspections (
    id, organization_id, workflow_id, workflow_name, category, submitted_by,
    bulk_approval_enabled, filled_steps, meter_reading, status, approvers, primary_approver_id,
    batch_id, rejection_reason, approved_by, rejected_by, auto_approval,
    created_at, approved_at, rejected_at, updated_at, version
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
    $13, $14, $15, $16, $17, $18, $19, $20, $21, 1
)
`

type CreateInspectionParams struct {
	ID                  uuid.UUID
	OrganizationID      uuid.UUID
	WorkflowID          uuid.UUID
	WorkflowName        string
	Category            string
	SubmittedBy         uuid.UUID
	BulkApprovalEnabled bool
	FilledSteps         json.RawMessage
	MeterReading        sql.NullFloat64
	Status              string
	Approvers           json.RawMessage
	PrimaryApproverID   uuid.NullUUID
	BatchID             sql.NullString
	RejectionReason     sql.NullString
	ApprovedBy          uuid.NullUUID
	RejectedBy          uuid.NullUUID
	AutoApproval        pqtype.NullRawMessage
	CreatedAt           time.Time
	ApprovedAt          sql.NullTime
	RejectedAt          sql.NullTime
	UpdatedAt           time.Time
}

func (q *Queries) CreateInspection(ctx context.Context, arg CreateInspectionParams) error {
	_, err := q.db.ExecContext(ctx, createInspection,
		arg.ID,
		arg.OrganizationID,
		arg.WorkflowID,
		arg.WorkflowName,
		arg.Category,
		arg.SubmittedBy,
		arg.BulkApprovalEnabled,
		arg.FilledSteps,
		arg.MeterReading,
		arg.Status,
		arg.Approvers,
		arg.PrimaryApproverID,
		arg.BatchID,
		arg.RejectionReason,
		arg.ApprovedBy,
		arg.RejectedBy,
		arg.AutoApproval,
		arg.CreatedAt,
		arg.ApprovedAt,
		arg.RejectedAt,
		arg.UpdatedAt,
	)
	return err
}

const getInspection = `-- name: GetInspection :one
SELECT ` + inspectionColumns + `
FROM inspections
WHERE id = $1
`

func (q *Queries) GetInspection(ctx context.Context, id uuid.UUID) (Inspection, error) {
	return scanInspection(q.db.QueryRowContext(ctx, getInspection, id))
}

const inspectionExists = `-- name: InspectionExists :one
SELECT EXISTS (SELECT 1 FROM inspections WHERE id = $1)
`

func (q *Queries) InspectionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, inspectionExists, id).Scan(&exists)
	return exists, err
}

const updateInspectionVersioned = `-- name: UpdateInspectionVersioned :execrows
UPDATE inspections
SET status = $3,
    approvers = $4,
    batch_id = $5,
    rejection_reason = $6,
    approved_by = $7,
    rejected_by = $8,
    auto_approval = $9,
    approved_at = $10,
    rejected_at = $11,
    updated_at = $12,
    version = version + 1
WHERE id = $1 AND version = $2
`

type UpdateInspectionVersionedParams struct {
	ID              uuid.UUID
	Version         int64
	Status          string
	Approvers       json.RawMessage
	BatchID         sql.NullString
	RejectionReason sql.NullString
	ApprovedBy      uuid.NullUUID
	RejectedBy      uuid.NullUUID
	AutoApproval    pqtype.NullRawMessage
	ApprovedAt      sql.NullTime
	RejectedAt      sql.NullTime
	UpdatedAt       time.Time
}

// UpdateInspectionVersioned writes the mutable columns if the row still
// carries the expected version. It returns the number of rows updated.
func (q *Queries) UpdateInspectionVersioned(ctx context.Context, arg UpdateInspectionVersionedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateInspectionVersioned,
		arg.ID,
		arg.Version,
		arg.Status,
		arg.Approvers,
		arg.BatchID,
		arg.RejectionReason,
		arg.ApprovedBy,
		arg.RejectedBy,
		arg.AutoApproval,
		arg.ApprovedAt,
		arg.RejectedAt,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countAutoApproved = `-- name: CountAutoApproved :one
SELECT COUNT(*)
FROM inspections
WHERE submitted_by = $1
  AND workflow_id = $2
  AND status = 'auto-approved'
  AND created_at >= $3
`

type CountAutoApprovedParams struct {
	SubmittedBy uuid.UUID
	WorkflowID  uuid.UUID
	Since       time.Time
}

func (q *Queries) CountAutoApproved(ctx context.Context, arg CountAutoApprovedParams) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countAutoApproved, arg.SubmittedBy, arg.WorkflowID, arg.Since).Scan(&count)
	return count, err
}

const listOrganizationsWithCandidates = `-- name: ListOrganizationsWithCandidates :many
SELECT DISTINCT organization_id
FROM inspections
WHERE status = 'pending'
  AND batch_id IS NULL
  AND bulk_approval_enabled
ORDER BY organization_id
`

func (q *Queries) ListOrganizationsWithCandidates(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listOrganizationsWithCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listGroupingCandidates = `-- name: ListGroupingCandidates :many
SELECT ` + inspectionColumns + `
FROM inspections
WHERE organization_id = $1
  AND status = 'pending'
  AND batch_id IS NULL
  AND bulk_approval_enabled
ORDER BY created_at, id
`

func (q *Queries) ListGroupingCandidates(ctx context.Context, organizationID uuid.UUID) ([]Inspection, error) {
	return q.queryInspections(ctx, listGroupingCandidates, organizationID)
}

const claimForBatch = `-- name: ClaimForBatch :many
UPDATE inspections
SET batch_id = $1,
    status = 'pending-bulk',
    updated_at = $2,
    version = version + 1
WHERE id = ANY($3::uuid[])
  AND status = 'pending'
  AND batch_id IS NULL
  AND bulk_approval_enabled
RETURNING id
`

type ClaimForBatchParams struct {
	BatchID   string
	UpdatedAt time.Time
	IDs       []uuid.UUID
}

// ClaimForBatch tags the rows that are still pending and untagged at the
// moment of the update and returns their ids.
func (q *Queries) ClaimForBatch(ctx context.Context, arg ClaimForBatchParams) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, claimForBatch, arg.BatchID, arg.UpdatedAt, pq.Array(arg.IDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOpenBatchMembers = `-- name: ListOpenBatchMembers :many
SELECT ` + inspectionColumns + `
FROM inspections
WHERE organization_id = $1
  AND batch_id IN (
    SELECT DISTINCT b.batch_id
    FROM inspections b
    WHERE b.organization_id = $1
      AND b.status = 'pending-bulk'
      AND b.batch_id IS NOT NULL
      AND ($2::uuid IS NULL OR b.primary_approver_id = $2::uuid)
  )
ORDER BY created_at, id
`

type ListOpenBatchMembersParams struct {
	OrganizationID uuid.UUID
	ApproverID     uuid.NullUUID
}

func (q *Queries) ListOpenBatchMembers(ctx context.Context, arg ListOpenBatchMembersParams) ([]Inspection, error) {
	return q.queryInspections(ctx, listOpenBatchMembers, arg.OrganizationID, arg.ApproverID)
}

const listBatchMembers = `-- name: ListBatchMembers :many
SELECT ` + inspectionColumns + `
FROM inspections
WHERE batch_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListBatchMembers(ctx context.Context, batchID string) ([]Inspection, error) {
	return q.queryInspections(ctx, listBatchMembers, batchID)
}

const lockPendingBatchMembers = `-- name: LockPendingBatchMembers :many
SELECT ` + inspectionColumns + `
FROM inspections
WHERE batch_id = $1
  AND status = 'pending-bulk'
ORDER BY created_at, id
FOR UPDATE
`

// LockPendingBatchMembers must run inside a transaction; the row locks are
// held until it commits.
func (q *Queries) LockPendingBatchMembers(ctx context.Context, batchID string) ([]Inspection, error) {
	return q.queryInspections(ctx, lockPendingBatchMembers, batchID)
}

const clearBatchTags = `-- name: ClearBatchTags :execrows
UPDATE inspections
SET batch_id = NULL,
    version = version + 1
WHERE batch_id IS NOT NULL
  AND status = ANY($1::text[])
  AND updated_at < $2
`

type ClearBatchTagsParams struct {
	Statuses  []string
	OlderThan time.Time
}

// ClearBatchTags leaves updated_at alone so repeated sweeps stay idempotent.
func (q *Queries) ClearBatchTags(ctx context.Context, arg ClearBatchTagsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, clearBatchTags, pq.Array(arg.Statuses), arg.OlderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
