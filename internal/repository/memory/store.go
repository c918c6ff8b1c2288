// Package memory provides an in-process InspectionStore for development
// and tests.
//
// Every read returns a deep copy and every write stores one, so callers can
// never mutate stored state without going through the conditional writes.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
	"github.com/DukeRupert/lukaut-approvals/internal/service"
	"github.com/google/uuid"
)

// Store implements service.InspectionStore with a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*domain.Inspection
}

var _ service.InspectionStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[uuid.UUID]*domain.Inspection)}
}

func (s *Store) Create(_ context.Context, insp *domain.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[insp.ID]; ok {
		return fmt.Errorf("inspection %s already exists", insp.ID)
	}
	insp.Version = 1
	s.items[insp.ID] = insp.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*domain.Inspection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	insp, ok := s.items[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return insp.Clone(), nil
}

func (s *Store) Save(_ context.Context, insp *domain.Inspection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[insp.ID]
	if !ok {
		return service.ErrNotFound
	}
	if current.Version != insp.Version {
		return service.ErrStale
	}
	insp.Version++
	s.items[insp.ID] = insp.Clone()
	return nil
}

func (s *Store) CountAutoApproved(_ context.Context, submitter, workflowID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, insp := range s.items {
		if insp.Status == domain.InspectionStatusAutoApproved &&
			insp.SubmittedBy == submitter &&
			insp.WorkflowID == workflowID &&
			!insp.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListOrganizationsWithCandidates(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var orgs []uuid.UUID
	for _, insp := range s.items {
		if insp.CanJoinBatch() && !seen[insp.OrganizationID] {
			seen[insp.OrganizationID] = true
			orgs = append(orgs, insp.OrganizationID)
		}
	}
	sort.Slice(orgs, func(a, b int) bool {
		return bytes.Compare(orgs[a][:], orgs[b][:]) < 0
	})
	return orgs, nil
}

func (s *Store) ListGroupingCandidates(_ context.Context, orgID uuid.UUID) ([]*domain.Inspection, error) {
	return s.collect(func(insp *domain.Inspection) bool {
		return insp.OrganizationID == orgID && insp.CanJoinBatch()
	}), nil
}

func (s *Store) ClaimForBatch(_ context.Context, ids []uuid.UUID, batchID string, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []uuid.UUID
	for _, id := range ids {
		insp, ok := s.items[id]
		if !ok || !insp.CanJoinBatch() {
			continue
		}
		c := insp.Clone()
		tag := batchID
		c.BatchID = &tag
		c.Status = domain.InspectionStatusPendingBulk
		c.UpdatedAt = now
		c.Version++
		s.items[id] = c
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (s *Store) ListBatchMembers(_ context.Context, orgID uuid.UUID, approverID *uuid.UUID) ([]*domain.Inspection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make(map[string]bool)
	for _, insp := range s.items {
		if insp.OrganizationID != orgID || !insp.InBatch() || insp.Status != domain.InspectionStatusPendingBulk {
			continue
		}
		if approverID != nil && insp.PrimaryApproverID() != *approverID {
			continue
		}
		open[*insp.BatchID] = true
	}

	return s.collectLocked(func(insp *domain.Inspection) bool {
		return insp.OrganizationID == orgID && insp.InBatch() && open[*insp.BatchID]
	}), nil
}

func (s *Store) GetBatch(_ context.Context, batchID string) ([]*domain.Inspection, error) {
	return s.collect(func(insp *domain.Inspection) bool {
		return insp.InBatch() && *insp.BatchID == batchID
	}), nil
}

func (s *Store) UpdateBatch(_ context.Context, batchID string, fn func(*domain.Inspection) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []*domain.Inspection
	for _, insp := range s.items {
		if insp.InBatch() && *insp.BatchID == batchID && insp.Status == domain.InspectionStatusPendingBulk {
			members = append(members, insp)
		}
	}
	sortBySubmission(members)

	n := 0
	for _, insp := range members {
		c := insp.Clone()
		if !fn(c) {
			continue
		}
		c.Version++
		s.items[c.ID] = c.Clone()
		n++
	}
	return n, nil
}

func (s *Store) ClearBatchTags(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, insp := range s.items {
		if !insp.InBatch() || !insp.Status.IsTerminal() || !insp.UpdatedAt.Before(olderThan) {
			continue
		}
		c := insp.Clone()
		c.BatchID = nil
		c.Version++
		s.items[id] = c
		n++
	}
	return n, nil
}

// collect returns clones of every item matching keep, ordered by submission.
func (s *Store) collect(keep func(*domain.Inspection) bool) []*domain.Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(keep)
}

// collectLocked is collect for callers already holding s.mu.
func (s *Store) collectLocked(keep func(*domain.Inspection) bool) []*domain.Inspection {
	var out []*domain.Inspection
	for _, insp := range s.items {
		if keep(insp) {
			out = append(out, insp.Clone())
		}
	}
	sortBySubmission(out)
	return out
}

func sortBySubmission(items []*domain.Inspection) {
	sort.Slice(items, func(a, b int) bool {
		if !items[a].CreatedAt.Equal(items[b].CreatedAt) {
			return items[a].CreatedAt.Before(items[b].CreatedAt)
		}
		return items[a].ID.String() < items[b].ID.String()
	})
}
