package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Inspection is one row of the inspections table.
type Inspection struct {
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
	Version             int64
}
