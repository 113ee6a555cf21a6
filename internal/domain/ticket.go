package domain

import (
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusPendingApproval TicketStatus = "Pending Approval"
	TicketStatusOpen            TicketStatus = "Open"
	TicketStatusInProgress      TicketStatus = "In Progress"
	TicketStatusResolved        TicketStatus = "Resolved"
	TicketStatusClosed          TicketStatus = "Closed"
	TicketStatusRejected        TicketStatus = "Rejected"
)

// ValidStatuses lists every status a ticket may ever hold.
var ValidStatuses = []TicketStatus{
	TicketStatusPendingApproval,
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusRejected,
}

// IsValid reports whether the status is one of the defined values.
func (s TicketStatus) IsValid() bool {
	for _, candidate := range ValidStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from the status.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// TicketUrgency enumerates urgency levels.
type TicketUrgency string

const (
	TicketUrgencyHigh   TicketUrgency = "High"
	TicketUrgencyMedium TicketUrgency = "Medium"
	TicketUrgencyLow    TicketUrgency = "Low"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            int64
	Number        string
	Title         string
	Description   string
	CategoryID    int64
	SubcategoryID *int64
	Urgency       TicketUrgency
	Type          string
	Status        TicketStatus
	CreatedBy     int64
	AssignedTo    *int64
	ApprovedBy    *int64
	RejectedBy    *int64
	Remark        *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time
	ApprovedAt    *time.Time
	RejectedAt    *time.Time
}

// NewTicketNumber builds the business key: TK + 8-digit date + 4-digit
// sub-second disambiguator. Unique in practice, not guaranteed.
func NewTicketNumber(now time.Time) string {
	return fmt.Sprintf("TK%s%04d", now.Format("20060102"), (now.UnixNano()/int64(100*time.Microsecond))%10000)
}
