package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates lifecycle event identifiers.
type EventType string

const (
	// EventTicketCreated fires when a ticket is created directly in Open.
	EventTicketCreated EventType = "ticket_created"
	// EventApprovalRequired fires when a ticket is created in Pending Approval.
	EventApprovalRequired EventType = "approval_required"
	// EventTicketUpdated fires on any committed status, assignment or remark
	// change, including approval and rejection.
	EventTicketUpdated EventType = "ticket_updated"
)

// Event represents a committed lifecycle mutation emitted by the ticket
// service. Ticket and Actor are snapshots taken after the commit.
type Event struct {
	ID        string
	Type      EventType
	Ticket    domain.Ticket
	Actor     domain.User
	OldStatus domain.TicketStatus
	NewStatus domain.TicketStatus
	Comment   string
	Timestamp time.Time
}
