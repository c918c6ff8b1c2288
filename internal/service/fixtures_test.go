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
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sent struct {
	Recipient uuid.UUID
	N         notify.Notification
}

// fakeNotifier records every delivery and can be told to fail.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, recipient uuid.UUID, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{Recipient: recipient, N: msg})
	return n.err
}

func (n *fakeNotifier) ofType(t notify.Type) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.N.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

type harness struct {
	store     *memory.Store
	notifier  *fakeNotifier
	clock     *clock
	approvals service.ApprovalService
	batches   service.BatchService
	org       uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		notifier: &fakeNotifier{},
		clock:    &clock{now: testNow},
		org:      uuid.New(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []service.Option{service.WithClock(h.clock.Now), service.WithLocation(time.UTC)}
	h.approvals = service.NewApprovalService(h.store, h.notifier, logger, opts...)
	h.batches = service.NewBatchService(h.store, h.notifier, logger, opts...)
	return h
}

func (h *harness) workflow(name string, rs domain.AutoApprovalRuleSet) domain.WorkflowSnapshot {
	return domain.WorkflowSnapshot{
		ID:             uuid.New(),
		OrganizationID: h.org,
		Name:           name,
		Category:       "routine",
		IsRoutine:      true,
		AutoApproval:   rs,
	}
}

func inspector() domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleInspector} }

func approver(id uuid.UUID) domain.Actor { return domain.Actor{ID: id, Role: domain.RoleApprover} }

func admin() domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin} }

func steps(text string) []domain.FilledStep {
	return []domain.FilledStep{{StepID: "reading", ResponseText: text, Timestamp: testNow}}
}

// submit creates a pending inspection on wf routed to approvers.
func (h *harness) submit(t *testing.T, wf domain.WorkflowSnapshot, approvers ...uuid.UUID) *domain.Inspection {
	t.Helper()
	insp, err := h.approvals.Submit(context.Background(), domain.SubmitParams{
		Workflow:    wf,
		SubmittedBy: inspector(),
		ApproverIDs: approvers,
		FilledSteps: steps("ok"),
	})
	require.NoError(t, err)
	return insp
}

// staleStore fails the first staleSaves calls to Save with ErrStale.
type staleStore struct {
	*memory.Store
	mu         sync.Mutex
	staleSaves int
}

func (s *staleStore) Save(ctx context.Context, insp *domain.Inspection) error {
	s.mu.Lock()
	if s.staleSaves > 0 {
		s.staleSaves--
		s.mu.Unlock()
		return service.ErrStale
	}
	s.mu.Unlock()
	return s.Store.Save(ctx, insp)
}

// failingOrgStore fails candidate listing for one organization.
type failingOrgStore struct {
	*memory.Store
	failOrg uuid.UUID
	panics  bool
}

func (s *failingOrgStore) ListGroupingCandidates(ctx context.Context, orgID uuid.UUID) ([]*domain.Inspection, error) {
	if orgID == s.failOrg {
		if s.panics {
			panic("corrupt row")
		}
		return nil, errors.New("connection reset")
	}
	return s.Store.ListGroupingCandidates(ctx, orgID)
}
