package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// memTicketRepo is an in-memory TicketRepository with the same
// compare-and-swap semantics as the SQL implementation.
type memTicketRepo struct {
	mu      sync.Mutex
	seq     int64
	tickets map[int64]*domain.Ticket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[int64]*domain.Ticket)}
}

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ticket.ID = r.seq
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now()
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) UpdateStatusWhere(_ context.Context, id int64, expected, next domain.TicketStatus, mutation repository.StatusMutation) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if ticket.Status != expected {
		return nil, repository.ErrStaleStatus
	}
	ticket.Status = next
	if mutation.AssignedTo != nil {
		ticket.AssignedTo = mutation.AssignedTo
	}
	if mutation.ApprovedBy != nil {
		ticket.ApprovedBy = mutation.ApprovedBy
	}
	if mutation.RejectedBy != nil {
		ticket.RejectedBy = mutation.RejectedBy
	}
	if mutation.Remark != nil {
		ticket.Remark = mutation.Remark
	}
	if mutation.ResolvedAt != nil {
		ticket.ResolvedAt = mutation.ResolvedAt
	}
	if mutation.ApprovedAt != nil {
		ticket.ApprovedAt = mutation.ApprovedAt
	}
	if mutation.RejectedAt != nil {
		ticket.RejectedAt = mutation.RejectedAt
	}
	ticket.UpdatedAt = time.Now()
	clone := *ticket
	return &clone, nil
}

func (r *memTicketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *ticket
	return &clone, nil
}

func (r *memTicketRepo) GetByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.Number == number {
			clone := *ticket
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.CreatedBy != nil && ticket.CreatedBy != *filter.CreatedBy {
			continue
		}
		result = append(result, *ticket)
	}
	return result, nil
}

// memAuditRepo optionally fails the first failCreates writes.
type memAuditRepo struct {
	mu          sync.Mutex
	seq         int64
	entries     []domain.AuditEntry
	failCreates int
}

func (r *memAuditRepo) Create(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreates > 0 {
		r.failCreates--
		return errors.New("audit storage unavailable")
	}
	r.seq++
	entry.ID = r.seq
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) ListByTicket(_ context.Context, ticketID int64, _, _ int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.AuditEntry
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (r *memAuditRepo) byTicket(ticketID int64) []domain.AuditEntry {
	result, _ := r.ListByTicket(context.Background(), ticketID, 0, 0)
	return result
}

// eventRecorder captures published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Subscribe(events.EventType, events.EventHandler) {}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event{}, r.events...)
}

type fixture struct {
	service  *TicketService
	tickets  *memTicketRepo
	audit    *memAuditRepo
	recorder *eventRecorder
	metrics  *observability.Metrics
}

func newFixture() *fixture {
	tickets := newMemTicketRepo()
	audit := &memAuditRepo{}
	recorder := &eventRecorder{}
	metrics := observability.NewMetrics()
	svc := NewTicketService(TicketDependencies{
		TicketRepo: tickets,
		AuditRepo:  audit,
		Dispatcher: recorder,
		Logger:     zap.NewNop(),
		Metrics:    metrics,
	})
	return &fixture{service: svc, tickets: tickets, audit: audit, recorder: recorder, metrics: metrics}
}

func generalUser() *domain.User {
	return &domain.User{ID: 1, Name: "Dana", Email: "dana@example.com", Role: domain.RoleGeneralUser}
}

func digitalUser() *domain.User {
	return &domain.User{ID: 2, Name: "Devin", Email: "devin@example.com", Role: domain.RoleDigitalTeam}
}

func approverUser() *domain.User {
	return &domain.User{ID: 3, Name: "Avery", Email: "avery@example.com", Role: domain.RoleApprover}
}

func opsUser() *domain.User {
	return &domain.User{ID: 4, Name: "Omar", Email: "omar@example.com", Role: domain.RoleOpsTeam}
}

func createInput() TicketCreateInput {
	return TicketCreateInput{
		Title:       "VPN broken",
		Description: "Cannot connect since this morning",
		CategoryID:  1,
		Urgency:     domain.TicketUrgencyHigh,
	}
}

func TestCreateTicketGeneralUserStartsOpen(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Regexp(t, `^TK\d{12}$`, ticket.Number)

	entries := f.audit.byTicket(ticket.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ticket created", entries[0].Reason)
	assert.Equal(t, string(domain.TicketStatusOpen), entries[0].NewValue)

	published := f.recorder.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventTicketCreated, published[0].Type)
}

func TestCreateTicketDigitalTeamStartsPendingApproval(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), digitalUser(), createInput())
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusPendingApproval, ticket.Status)

	published := f.recorder.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventApprovalRequired, published[0].Type)
}

func TestApproveRequiresApproverRole(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), digitalUser(), createInput())
	require.NoError(t, err)

	_, err = f.service.Approve(context.Background(), opsUser(), ticket.ID)
	assert.True(t, apperrors.IsCode(err, "PERMISSION_DENIED"))

	current, getErr := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.TicketStatusPendingApproval, current.Status)
}

func TestApproveMovesTicketToOpen(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), digitalUser(), createInput())
	require.NoError(t, err)

	approver := approverUser()
	approved, err := f.service.Approve(context.Background(), approver, ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, approver.ID, *approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.RejectedAt)

	entries := f.audit.byTicket(ticket.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, string(domain.TicketStatusOpen), entries[1].NewValue)
}

func TestApproveNotPendingYieldsConflictWithoutSideEffects(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)
	auditBefore := len(f.audit.byTicket(ticket.ID))
	eventsBefore := len(f.recorder.all())

	_, err = f.service.Approve(context.Background(), approverUser(), ticket.ID)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))

	assert.Len(t, f.audit.byTicket(ticket.ID), auditBefore)
	assert.Len(t, f.recorder.all(), eventsBefore)
}

func TestApproveMissingTicketYieldsNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.service.Approve(context.Background(), approverUser(), 999)
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestConcurrentApprovalExactlyOneWins(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), digitalUser(), createInput())
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, approveErr := f.service.Approve(context.Background(), approverUser(), ticket.ID)
			results <- approveErr
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case apperrors.IsCode(err, "CONFLICT"):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	current, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, current.Status)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), digitalUser(), createInput())
	require.NoError(t, err)

	rejected, err := f.service.Reject(context.Background(), approverUser(), ticket.ID, "duplicate of TK202601010001")
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusRejected, rejected.Status)
	assert.NotNil(t, rejected.RejectedAt)
	assert.Nil(t, rejected.ApprovedAt)
	require.NotNil(t, rejected.Remark)
	assert.Equal(t, "duplicate of TK202601010001", *rejected.Remark)

	// any further transition attempt conflicts
	_, err = f.service.UpdateStatus(context.Background(), opsUser(), ticket.ID, domain.TicketStatusInProgress, nil, "")
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))
	_, err = f.service.Approve(context.Background(), approverUser(), ticket.ID)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))
}

func TestUpdateStatusResolvedSetsResolvedAt(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	resolved, err := f.service.UpdateStatus(context.Background(), opsUser(), ticket.ID, domain.TicketStatusResolved, nil, "fixed")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestUpdateStatusWithAssignmentWritesTwoAuditEntries(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	assignee := int64(7)
	_, err = f.service.UpdateStatus(context.Background(), opsUser(), ticket.ID, domain.TicketStatusInProgress, &assignee, "")
	require.NoError(t, err)

	entries := f.audit.byTicket(ticket.ID)
	require.Len(t, entries, 3) // creation + status + assignment
	assert.Equal(t, domain.AuditFieldStatus, entries[1].FieldName)
	assert.Equal(t, string(domain.TicketStatusInProgress), entries[1].NewValue)
	assert.Equal(t, domain.AuditFieldAssignee, entries[2].FieldName)
	assert.Equal(t, "7", entries[2].NewValue)
}

func TestUpdateStatusRejectsUndefinedValue(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(context.Background(), opsUser(), ticket.ID, domain.TicketStatus("Escalated"), nil, "")
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))
}

func TestUpdateStatusRequiresTriageRole(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(context.Background(), generalUser(), ticket.ID, domain.TicketStatusInProgress, nil, "")
	assert.True(t, apperrors.IsCode(err, "PERMISSION_DENIED"))
}

func TestAddRemarkWritesAuditEntry(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	updated, err := f.service.AddRemark(context.Background(), opsUser(), ticket.ID, "waiting on vendor", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, updated.Status, "a remark alone never changes status")

	entries := f.audit.byTicket(ticket.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditFieldRemark, entries[1].FieldName)
	assert.Equal(t, "waiting on vendor", entries[1].NewValue)
}

func TestAddRemarkWithStatusChange(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	status := domain.TicketStatusInProgress
	updated, err := f.service.AddRemark(context.Background(), opsUser(), ticket.ID, "taking this one", &status)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
}

func TestAuditFailureDoesNotBlockMutation(t *testing.T) {
	f := newFixture()
	f.audit.failCreates = 2 // first write and its retry both fail

	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err, "lifecycle outcome is authoritative; audit is best effort")
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Empty(t, f.audit.byTicket(ticket.ID))
	assert.Equal(t, int64(1), f.metrics.AuditFailures())
}

func TestAuditFailureRetriedOnce(t *testing.T) {
	f := newFixture()
	f.audit.failCreates = 1 // first write fails, retry succeeds

	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)
	assert.Len(t, f.audit.byTicket(ticket.ID), 1)
	assert.Equal(t, int64(0), f.metrics.AuditFailures())
}

func TestEveryTransitionKeepsStatusDefined(t *testing.T) {
	f := newFixture()
	ticket, err := f.service.CreateTicket(context.Background(), generalUser(), createInput())
	require.NoError(t, err)

	steps := []domain.TicketStatus{
		domain.TicketStatusInProgress,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
	}
	for _, next := range steps {
		updated, err := f.service.UpdateStatus(context.Background(), opsUser(), ticket.ID, next, nil, "")
		require.NoError(t, err)
		assert.True(t, updated.Status.IsValid())
	}

	entries := f.audit.byTicket(ticket.ID)
	require.Len(t, entries, 4)
	for i, next := range steps {
		assert.Equal(t, string(next), entries[i+1].NewValue, "audit new_value matches resulting status")
	}
}
