package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/mail"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// Recipients holds the resolved addressing for one lifecycle event.
type Recipients struct {
	Primary string
	CC      []string
}

// NotificationService glues lifecycle events to the mail dispatcher. Each
// event is mapped to a notification job and dispatched on its own goroutine;
// the lifecycle result never depends on the dispatch outcome.
type NotificationService struct {
	dispatcher *mail.Dispatcher
	events     events.Dispatcher
	users      userLookup
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.MailConfig
	inflight   sync.WaitGroup
}

// userLookup resolves actor and creator addresses. Satisfied by
// repository.UserRepository.
type userLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// NewNotificationService creates the coordinator.
func NewNotificationService(dispatcher *mail.Dispatcher, eventBus events.Dispatcher, users userLookup, logger *zap.Logger, metrics *observability.Metrics, cfg config.MailConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		events:     eventBus,
		users:      users,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to lifecycle events.
func (n *NotificationService) RegisterHandlers() {
	if n.events == nil {
		return
	}
	n.events.Subscribe(events.EventTicketCreated, n.handleEvent)
	n.events.Subscribe(events.EventApprovalRequired, n.handleEvent)
	n.events.Subscribe(events.EventTicketUpdated, n.handleEvent)
}

// Drain waits for in-flight dispatch jobs to finish. Used at shutdown and
// by callers that want to await results for observability.
func (n *NotificationService) Drain() {
	n.inflight.Wait()
}

func (n *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	job, ok := n.BuildJob(ctx, event)
	if !ok {
		return nil
	}

	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		// detach from the request context: dispatch outlives the
		// triggering HTTP response
		result := n.dispatcher.Dispatch(context.Background(), job)
		n.recordResult(event, job, result)
	}()
	return nil
}

// BuildJob maps (event, ticket, actor) to a notification job. It performs
// the recipient selection only; rendering is delegated to the templates.
func (n *NotificationService) BuildJob(ctx context.Context, event events.Event) (mail.Job, bool) {
	recipients, ok := n.SelectRecipients(ctx, event)
	if !ok {
		return mail.Job{}, false
	}

	var subject, body string
	switch event.Type {
	case events.EventTicketCreated:
		subject, body = mail.RenderCreated(event.Ticket, event.Actor)
	case events.EventApprovalRequired:
		subject, body = mail.RenderApprovalRequired(event.Ticket, event.Actor)
	case events.EventTicketUpdated:
		subject, body = mail.RenderUpdated(event.Ticket, event.Actor, event.Comment)
	default:
		return mail.Job{}, false
	}

	return mail.NewJob(recipients.Primary, recipients.CC, subject, body), true
}

// SelectRecipients implements the per-event addressing rules:
//
//   - TicketCreated: primary is the operations team; the creator gets a copy
//     unless their own role is ops or approver.
//   - ApprovalRequired: primary is the configured approver address; the
//     creator gets a copy.
//   - TicketUpdated: primary is the ticket creator; the updating actor gets
//     a copy unless they are the creator.
func (n *NotificationService) SelectRecipients(ctx context.Context, event events.Event) (Recipients, bool) {
	switch event.Type {
	case events.EventTicketCreated:
		recipients := Recipients{Primary: n.cfg.OpsTeamAddress}
		if !event.Actor.Role.CanTriage() {
			recipients.CC = []string{event.Actor.Email}
		}
		return recipients, true

	case events.EventApprovalRequired:
		return Recipients{
			Primary: n.cfg.ApproverAddress,
			CC:      []string{event.Actor.Email},
		}, true

	case events.EventTicketUpdated:
		creator := &event.Actor
		if event.Ticket.CreatedBy != event.Actor.ID {
			loaded, err := n.users.GetByID(ctx, event.Ticket.CreatedBy)
			if err != nil {
				n.logger.Warn("cannot resolve ticket creator for notification",
					zap.Int64("ticket_id", event.Ticket.ID),
					zap.Int64("creator_id", event.Ticket.CreatedBy),
					zap.Error(err))
				return Recipients{}, false
			}
			creator = loaded
		}
		recipients := Recipients{Primary: creator.Email}
		if event.Actor.ID != creator.ID {
			recipients.CC = []string{event.Actor.Email}
		}
		return recipients, true
	}
	return Recipients{}, false
}

func (n *NotificationService) recordResult(event events.Event, job mail.Job, result mail.DispatchResult) {
	for _, recipient := range result.Recipients {
		category := "ok"
		if !recipient.Success {
			category = string(recipient.Category)
		}
		n.metrics.RecordDispatch(category)
	}

	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("ticket", event.Ticket.Number),
		zap.String("primary", job.Primary),
		zap.String("subject", job.Subject),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	}
	if result.Success() {
		if result.Failed > 0 {
			n.logger.Warn("notification partially delivered", fields...)
		} else {
			n.logger.Info("notification delivered", fields...)
		}
		return
	}
	for _, recipient := range result.Recipients {
		fields = append(fields, zap.String("failure_"+recipient.Recipient, recipient.Detail))
	}
	n.logger.Error("notification delivery failed for every recipient", fields...)
}
