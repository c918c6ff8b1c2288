package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/DukeRupert/lukaut-approvals/internal/service"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Store implements service.InspectionStore on PostgreSQL.
type Store struct {
	db      *sql.DB
	queries *Queries
}

var _ service.InspectionStore = (*Store)(nil)

// NewStore creates a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, queries: New(db)}
}

func (s *Store) Create(ctx context.Context, insp *domain.Inspection) error {
	row, err := toRow(insp)
	if err != nil {
		return err
	}
	if err := s.queries.CreateInspection(ctx, CreateInspectionParams{
		ID:                  row.ID,
		OrganizationID:      row.OrganizationID,
		WorkflowID:          row.WorkflowID,
		WorkflowName:        row.WorkflowName,
		Category:            row.Category,
		SubmittedBy:         row.SubmittedBy,
		BulkApprovalEnabled: row.BulkApprovalEnabled,
		FilledSteps:         row.FilledSteps,
		MeterReading:        row.MeterReading,
		Status:              row.Status,
		Approvers:           row.Approvers,
		PrimaryApproverID:   row.PrimaryApproverID,
		BatchID:             row.BatchID,
		RejectionReason:     row.RejectionReason,
		ApprovedBy:          row.ApprovedBy,
		RejectedBy:          row.RejectedBy,
		AutoApproval:        row.AutoApproval,
		CreatedAt:           row.CreatedAt,
		ApprovedAt:          row.ApprovedAt,
		RejectedAt:          row.RejectedAt,
		UpdatedAt:           row.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	insp.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	row, err := s.queries.GetInspection(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("get inspection: %w", err)
	}
	return toDomain(row)
}

func (s *Store) Save(ctx context.Context, insp *domain.Inspection) error {
	return s.save(ctx, s.queries, insp)
}

func (s *Store) save(ctx context.Context, q *Queries, insp *domain.Inspection) error {
	params, err := toUpdateParams(insp)
	if err != nil {
		return err
	}
	n, err := q.UpdateInspectionVersioned(ctx, params)
	if err != nil {
		return fmt.Errorf("update inspection: %w", err)
	}
	if n == 0 {
		exists, err := q.InspectionExists(ctx, insp.ID)
		if err != nil {
			return fmt.Errorf("check inspection: %w", err)
		}
		if !exists {
			return service.ErrNotFound
		}
		return service.ErrStale
	}
	insp.Version++
	return nil
}

func (s *Store) CountAutoApproved(ctx context.Context, submitter, workflowID uuid.UUID, since time.Time) (int, error) {
	n, err := s.queries.CountAutoApproved(ctx, CountAutoApprovedParams{
		SubmittedBy: submitter,
		WorkflowID:  workflowID,
		Since:       since,
	})
	if err != nil {
		return 0, fmt.Errorf("count auto-approved: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListOrganizationsWithCandidates(ctx context.Context) ([]uuid.UUID, error) {
	return s.queries.ListOrganizationsWithCandidates(ctx)
}

func (s *Store) ListGroupingCandidates(ctx context.Context, orgID uuid.UUID) ([]*domain.Inspection, error) {
	rows, err := s.queries.ListGroupingCandidates(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list grouping candidates: %w", err)
	}
	return toDomainList(rows)
}

func (s *Store) ClaimForBatch(ctx context.Context, ids []uuid.UUID, batchID string, now time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	claimed, err := s.queries.ClaimForBatch(ctx, ClaimForBatchParams{
		BatchID:   batchID,
		UpdatedAt: now,
		IDs:       ids,
	})
	if err != nil {
		return nil, fmt.Errorf("claim for batch: %w", err)
	}
	return claimed, nil
}

func (s *Store) ListBatchMembers(ctx context.Context, orgID uuid.UUID, approverID *uuid.UUID) ([]*domain.Inspection, error) {
	rows, err := s.queries.ListOpenBatchMembers(ctx, ListOpenBatchMembersParams{
		OrganizationID: orgID,
		ApproverID:     toNullUUID(approverID),
	})
	if err != nil {
		return nil, fmt.Errorf("list batch members: %w", err)
	}
	return toDomainList(rows)
}

func (s *Store) GetBatch(ctx context.Context, batchID string) ([]*domain.Inspection, error) {
	rows, err := s.queries.ListBatchMembers(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return toDomainList(rows)
}

// UpdateBatch locks the batch's pending members, applies fn and writes the
// changed rows in one transaction.
func (s *Store) UpdateBatch(ctx context.Context, batchID string, fn func(*domain.Inspection) bool) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	qtx := s.queries.WithTx(tx)
	rows, err := qtx.LockPendingBatchMembers(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("lock batch members: %w", err)
	}
	members, err := toDomainList(rows)
	if err != nil {
		return 0, err
	}

	for _, m := range members {
		if !fn(m) {
			continue
		}
		if err = s.save(ctx, qtx, m); err != nil {
			return 0, err
		}
		n++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *Store) ClearBatchTags(ctx context.Context, olderThan time.Time) (int64, error) {
	terminal := domain.TerminalStatuses()
	statuses := make([]string, len(terminal))
	for i, st := range terminal {
		statuses[i] = st.String()
	}
	n, err := s.queries.ClearBatchTags(ctx, ClearBatchTagsParams{
		Statuses:  statuses,
		OlderThan: olderThan,
	})
	if err != nil {
		return 0, fmt.Errorf("clear batch tags: %w", err)
	}
	return n, nil
}

// =============================================================================
// Conversions
// =============================================================================

func toRow(insp *domain.Inspection) (Inspection, error) {
	steps := insp.FilledSteps
	if steps == nil {
		steps = []domain.FilledStep{}
	}
	filled, err := json.Marshal(steps)
	if err != nil {
		return Inspection{}, fmt.Errorf("marshal filled steps: %w", err)
	}
	votes := insp.Approvers
	if votes == nil {
		votes = []domain.ApprovalVote{}
	}
	approvers, err := json.Marshal(votes)
	if err != nil {
		return Inspection{}, fmt.Errorf("marshal approvers: %w", err)
	}
	auto, err := toNullRawMessage(insp.AutoApproval)
	if err != nil {
		return Inspection{}, err
	}

	primary := uuid.NullUUID{}
	if id := insp.PrimaryApproverID(); id != uuid.Nil {
		primary = uuid.NullUUID{UUID: id, Valid: true}
	}

	return Inspection{
		ID:                  insp.ID,
		OrganizationID:      insp.OrganizationID,
		WorkflowID:          insp.WorkflowID,
		WorkflowName:        insp.WorkflowName,
		Category:            insp.Category,
		SubmittedBy:         insp.SubmittedBy,
		BulkApprovalEnabled: insp.BulkApprovalEnabled,
		FilledSteps:         filled,
		MeterReading:        toNullFloat64(insp.MeterReading),
		Status:              insp.Status.String(),
		Approvers:           approvers,
		PrimaryApproverID:   primary,
		BatchID:             toNullString(insp.BatchID),
		RejectionReason:     sql.NullString{String: insp.RejectionReason, Valid: insp.RejectionReason != ""},
		ApprovedBy:          toNullUUID(insp.ApprovedBy),
		RejectedBy:          toNullUUID(insp.RejectedBy),
		AutoApproval:        auto,
		CreatedAt:           insp.CreatedAt,
		ApprovedAt:          toNullTime(insp.ApprovedAt),
		RejectedAt:          toNullTime(insp.RejectedAt),
		UpdatedAt:           insp.UpdatedAt,
		Version:             insp.Version,
	}, nil
}

func toUpdateParams(insp *domain.Inspection) (UpdateInspectionVersionedParams, error) {
	row, err := toRow(insp)
	if err != nil {
		return UpdateInspectionVersionedParams{}, err
	}
	return UpdateInspectionVersionedParams{
		ID:              row.ID,
		Version:         row.Version,
		Status:          row.Status,
		Approvers:       row.Approvers,
		BatchID:         row.BatchID,
		RejectionReason: row.RejectionReason,
		ApprovedBy:      row.ApprovedBy,
		RejectedBy:      row.RejectedBy,
		AutoApproval:    row.AutoApproval,
		ApprovedAt:      row.ApprovedAt,
		RejectedAt:      row.RejectedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

func toDomain(row Inspection) (*domain.Inspection, error) {
	insp := &domain.Inspection{
		ID:                  row.ID,
		OrganizationID:      row.OrganizationID,
		WorkflowID:          row.WorkflowID,
		WorkflowName:        row.WorkflowName,
		Category:            row.Category,
		SubmittedBy:         row.SubmittedBy,
		BulkApprovalEnabled: row.BulkApprovalEnabled,
		Status:              domain.InspectionStatus(row.Status),
		RejectionReason:     row.RejectionReason.String,
		ApprovedBy:          fromNullUUID(row.ApprovedBy),
		RejectedBy:          fromNullUUID(row.RejectedBy),
		CreatedAt:           row.CreatedAt,
		ApprovedAt:          fromNullTime(row.ApprovedAt),
		RejectedAt:          fromNullTime(row.RejectedAt),
		UpdatedAt:           row.UpdatedAt,
		Version:             row.Version,
	}
	if row.MeterReading.Valid {
		v := row.MeterReading.Float64
		insp.MeterReading = &v
	}
	if row.BatchID.Valid {
		b := row.BatchID.String
		insp.BatchID = &b
	}
	if len(row.FilledSteps) > 0 {
		if err := json.Unmarshal(row.FilledSteps, &insp.FilledSteps); err != nil {
			return nil, fmt.Errorf("unmarshal filled steps of %s: %w", row.ID, err)
		}
	}
	if len(row.Approvers) > 0 {
		if err := json.Unmarshal(row.Approvers, &insp.Approvers); err != nil {
			return nil, fmt.Errorf("unmarshal approvers of %s: %w", row.ID, err)
		}
	}
	if row.AutoApproval.Valid {
		var eval domain.Evaluation
		if err := json.Unmarshal(row.AutoApproval.RawMessage, &eval); err != nil {
			return nil, fmt.Errorf("unmarshal auto approval of %s: %w", row.ID, err)
		}
		insp.AutoApproval = &eval
	}
	return insp, nil
}

func toDomainList(rows []Inspection) ([]*domain.Inspection, error) {
	out := make([]*domain.Inspection, 0, len(rows))
	for _, row := range rows {
		insp, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		out = append(out, insp)
	}
	return out, nil
}

func toNullRawMessage(eval *domain.Evaluation) (pqtype.NullRawMessage, error) {
	if eval == nil {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(eval)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal auto approval: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func toNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
