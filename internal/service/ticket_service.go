package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TicketService enforces the ticket lifecycle: legal transitions, role
// gates, the audit trail, and event emission after commit.
type TicketService struct {
	tickets    repository.TicketRepository
	audit      repository.AuditRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	AuditRepo  repository.AuditRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title         string
	Description   string
	CategoryID    int64
	SubcategoryID *int64
	Urgency       domain.TicketUrgency
	Type          string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		audit:      deps.AuditRepo,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        now,
	}
}

// CreateTicket files a new ticket. Tickets created by a role that requires
// approval start in Pending Approval; all others start in Open.
func (s *TicketService) CreateTicket(ctx context.Context, creator *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	status := domain.TicketStatusOpen
	if creator.Role.RequiresApproval() {
		status = domain.TicketStatusPendingApproval
	}

	urgency := input.Urgency
	if urgency == "" {
		urgency = domain.TicketUrgencyMedium
	}

	ticket := &domain.Ticket{
		Number:        domain.NewTicketNumber(s.now()),
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		CategoryID:    input.CategoryID,
		SubcategoryID: input.SubcategoryID,
		Urgency:       urgency,
		Type:          input.Type,
		Status:        status,
		CreatedBy:     creator.ID,
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.writeAudit(ctx, &domain.AuditEntry{
		TicketID:  ticket.ID,
		FieldName: domain.AuditFieldStatus,
		OldValue:  "",
		NewValue:  string(ticket.Status),
		Reason:    "Ticket created",
		ActorID:   creator.ID,
	})

	eventType := events.EventTicketCreated
	if status == domain.TicketStatusPendingApproval {
		eventType = events.EventApprovalRequired
	}
	s.publishEvent(ctx, events.Event{
		Type:      eventType,
		Ticket:    *ticket,
		Actor:     *creator,
		NewStatus: ticket.Status,
	})
	return ticket, nil
}

// Approve moves a Pending Approval ticket to Open. Only approver roles may
// call it; a ticket in any other status yields Conflict with no mutation,
// no audit entry and no notification.
func (s *TicketService) Approve(ctx context.Context, approver *domain.User, ticketID int64) (*domain.Ticket, error) {
	if !approver.Role.CanApprove() {
		return nil, apperrors.NewPermissionDenied("approver role required")
	}

	now := s.now()
	ticket, err := s.tickets.UpdateStatusWhere(ctx, ticketID,
		domain.TicketStatusPendingApproval, domain.TicketStatusOpen,
		repository.StatusMutation{
			ApprovedBy: &approver.ID,
			ApprovedAt: &now,
		})
	if err != nil {
		return nil, s.mapTransitionError(err, "ticket is not pending approval")
	}

	s.writeAudit(ctx, &domain.AuditEntry{
		TicketID:  ticket.ID,
		FieldName: domain.AuditFieldStatus,
		OldValue:  string(domain.TicketStatusPendingApproval),
		NewValue:  string(ticket.Status),
		Reason:    "Ticket approved",
		ActorID:   approver.ID,
	})

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketUpdated,
		Ticket:    *ticket,
		Actor:     *approver,
		OldStatus: domain.TicketStatusPendingApproval,
		NewStatus: ticket.Status,
		Comment:   "Ticket approved",
	})
	return ticket, nil
}

// Reject moves a Pending Approval ticket to Rejected, a fully terminal
// state. Same gating and race rules as Approve.
func (s *TicketService) Reject(ctx context.Context, approver *domain.User, ticketID int64, remark string) (*domain.Ticket, error) {
	if !approver.Role.CanApprove() {
		return nil, apperrors.NewPermissionDenied("approver role required")
	}

	now := s.now()
	mutation := repository.StatusMutation{
		RejectedBy: &approver.ID,
		RejectedAt: &now,
	}
	remark = strings.TrimSpace(remark)
	if remark != "" {
		mutation.Remark = &remark
	}

	ticket, err := s.tickets.UpdateStatusWhere(ctx, ticketID,
		domain.TicketStatusPendingApproval, domain.TicketStatusRejected, mutation)
	if err != nil {
		return nil, s.mapTransitionError(err, "ticket is not pending approval")
	}

	s.writeAudit(ctx, &domain.AuditEntry{
		TicketID:  ticket.ID,
		FieldName: domain.AuditFieldStatus,
		OldValue:  string(domain.TicketStatusPendingApproval),
		NewValue:  string(ticket.Status),
		Reason:    reasonOrDefault(remark, "Ticket rejected"),
		ActorID:   approver.ID,
	})

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketUpdated,
		Ticket:    *ticket,
		Actor:     *approver,
		OldStatus: domain.TicketStatusPendingApproval,
		NewStatus: ticket.Status,
		Comment:   reasonOrDefault(remark, "Ticket rejected"),
	})
	return ticket, nil
}

// UpdateStatus applies a triage status change, optionally assigning the
// ticket at the same time. Both changes commit together; each gets its own
// audit entry.
func (s *TicketService) UpdateStatus(ctx context.Context, actor *domain.User, ticketID int64, newStatus domain.TicketStatus, assignee *int64, remark string) (*domain.Ticket, error) {
	if !actor.Role.CanTriage() {
		return nil, apperrors.NewPermissionDenied("triage role required")
	}
	if !newStatus.IsValid() {
		return nil, apperrors.NewValidationError("unknown ticket status", map[string]any{"status": string(newStatus)})
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.mapTransitionError(err, "")
	}
	if !isLegalTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewConflict("illegal status transition", map[string]any{
			"from": string(ticket.Status),
			"to":   string(newStatus),
		})
	}

	oldStatus := ticket.Status
	oldAssignee := ticket.AssignedTo
	ticket.Status = newStatus
	if newStatus == domain.TicketStatusResolved {
		now := s.now()
		ticket.ResolvedAt = &now
	}
	if assignee != nil {
		ticket.AssignedTo = assignee
	}
	remark = strings.TrimSpace(remark)
	if remark != "" {
		ticket.Remark = &remark
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapTransitionError(err, "")
	}

	s.writeAudit(ctx, &domain.AuditEntry{
		TicketID:  ticket.ID,
		FieldName: domain.AuditFieldStatus,
		OldValue:  string(oldStatus),
		NewValue:  string(newStatus),
		Reason:    reasonOrDefault(remark, "Status updated"),
		ActorID:   actor.ID,
	})
	if assignee != nil && !sameAssignee(oldAssignee, assignee) {
		s.writeAudit(ctx, &domain.AuditEntry{
			TicketID:  ticket.ID,
			FieldName: domain.AuditFieldAssignee,
			OldValue:  assigneeValue(oldAssignee),
			NewValue:  assigneeValue(assignee),
			Reason:    "Ticket assigned",
			ActorID:   actor.ID,
		})
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketUpdated,
		Ticket:    *ticket,
		Actor:     *actor,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Comment:   remark,
	})
	return ticket, nil
}

// AddRemark records a remark, optionally paired with a status change. A
// remark alone never changes status.
func (s *TicketService) AddRemark(ctx context.Context, actor *domain.User, ticketID int64, remark string, newStatus *domain.TicketStatus) (*domain.Ticket, error) {
	if !actor.Role.CanTriage() {
		return nil, apperrors.NewPermissionDenied("triage role required")
	}
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return nil, apperrors.NewValidationError("remark required", nil)
	}

	if newStatus != nil {
		return s.UpdateStatus(ctx, actor, ticketID, *newStatus, nil, remark)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.mapTransitionError(err, "")
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewConflict("ticket is in a terminal state", map[string]any{
			"status": string(ticket.Status),
		})
	}

	oldRemark := ""
	if ticket.Remark != nil {
		oldRemark = *ticket.Remark
	}
	ticket.Remark = &remark
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapTransitionError(err, "")
	}

	s.writeAudit(ctx, &domain.AuditEntry{
		TicketID:  ticket.ID,
		FieldName: domain.AuditFieldRemark,
		OldValue:  oldRemark,
		NewValue:  remark,
		Reason:    "Remark added",
		ActorID:   actor.ID,
	})

	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketUpdated,
		Ticket:    *ticket,
		Actor:     *actor,
		OldStatus: ticket.Status,
		NewStatus: ticket.Status,
		Comment:   remark,
	})
	return ticket, nil
}

// GetTicketForUser fetches a ticket ensuring ownership; triage roles can
// read any ticket.
func (s *TicketService) GetTicketForUser(ctx context.Context, user *domain.User, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.mapTransitionError(err, "")
	}
	if ticket.CreatedBy != user.ID && !user.Role.CanTriage() {
		return nil, apperrors.NewPermissionDenied("not your ticket")
	}
	return ticket, nil
}

// ListUserTickets returns paginated tickets created by the user.
func (s *TicketService) ListUserTickets(ctx context.Context, userID int64, limit, offset int) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		CreatedBy: &userID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListAudit returns the audit trail for a ticket the user may read.
func (s *TicketService) ListAudit(ctx context.Context, user *domain.User, ticketID int64, limit, offset int) ([]domain.AuditEntry, error) {
	if _, err := s.GetTicketForUser(ctx, user, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.audit.ListByTicket(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// writeAudit appends a ledger entry. Failures never roll back the ticket
// mutation: the write is retried once, then logged and counted.
func (s *TicketService) writeAudit(ctx context.Context, entry *domain.AuditEntry) {
	err := s.audit.Create(ctx, entry)
	if err == nil {
		return
	}
	if retryErr := s.audit.Create(ctx, entry); retryErr == nil {
		return
	}
	s.metrics.RecordAuditFailure()
	s.logger.Error("audit entry lost",
		zap.Int64("ticket_id", entry.TicketID),
		zap.String("field", entry.FieldName),
		zap.String("new_value", entry.NewValue),
		zap.Error(err))
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func (s *TicketService) mapTransitionError(err error, conflictMessage string) error {
	switch {
	case errors.Is(err, repository.ErrStaleStatus):
		if conflictMessage == "" {
			conflictMessage = "ticket status changed concurrently"
		}
		return apperrors.NewConflict(conflictMessage, nil)
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound("ticket", nil)
	default:
		return apperrors.MapError(err)
	}
}

// Pending Approval leaves only through Approve/Reject; triage may move
// Open and In Progress tickets to any other defined status; Resolved may
// still be Closed; Closed and Rejected are fully terminal.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusPendingApproval: {},
	domain.TicketStatusOpen: {
		domain.TicketStatusInProgress,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
		domain.TicketStatusRejected,
	},
	domain.TicketStatusInProgress: {
		domain.TicketStatusOpen,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
		domain.TicketStatusRejected,
	},
	domain.TicketStatusResolved: {domain.TicketStatusClosed},
	domain.TicketStatusClosed:   {},
	domain.TicketStatusRejected: {},
}

func isLegalTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func sameAssignee(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func assigneeValue(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func reasonOrDefault(remark, fallback string) string {
	if remark == "" {
		return fallback
	}
	return remark
}
