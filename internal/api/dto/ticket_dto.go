package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	CategoryID    int64                `json:"category_id"`
	SubcategoryID *int64               `json:"subcategory_id"`
	Urgency       domain.TicketUrgency `json:"urgency"`
	Type          string               `json:"type"`
}

// UpdateStatusRequest payload for triage status changes.
type UpdateStatusRequest struct {
	Status     domain.TicketStatus `json:"status"`
	AssignedTo *int64              `json:"assigned_to"`
	Remark     string              `json:"remark"`
}

// AddRemarkRequest payload.
type AddRemarkRequest struct {
	Remark string               `json:"remark"`
	Status *domain.TicketStatus `json:"status,omitempty"`
}

// RejectRequest payload.
type RejectRequest struct {
	Remark string `json:"remark"`
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID            int64                `json:"id"`
	Number        string               `json:"number"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	CategoryID    int64                `json:"category_id"`
	SubcategoryID *int64               `json:"subcategory_id"`
	Urgency       domain.TicketUrgency `json:"urgency"`
	Type          string               `json:"type"`
	Status        domain.TicketStatus  `json:"status"`
	CreatedBy     int64                `json:"created_by"`
	AssignedTo    *int64               `json:"assigned_to"`
	Remark        *string              `json:"remark"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	ResolvedAt    *time.Time           `json:"resolved_at"`
	ApprovedAt    *time.Time           `json:"approved_at"`
	RejectedAt    *time.Time           `json:"rejected_at"`
}

// AuditEntryResponse represents one ledger entry.
type AuditEntryResponse struct {
	ID        int64     `json:"id"`
	FieldName string    `json:"field_name"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason"`
	ActorID   int64     `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FromTicket maps the domain aggregate to the response shape.
func FromTicket(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            t.ID,
		Number:        t.Number,
		Title:         t.Title,
		Description:   t.Description,
		CategoryID:    t.CategoryID,
		SubcategoryID: t.SubcategoryID,
		Urgency:       t.Urgency,
		Type:          t.Type,
		Status:        t.Status,
		CreatedBy:     t.CreatedBy,
		AssignedTo:    t.AssignedTo,
		Remark:        t.Remark,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		ResolvedAt:    t.ResolvedAt,
		ApprovedAt:    t.ApprovedAt,
		RejectedAt:    t.RejectedAt,
	}
}

// FromAuditEntry maps a ledger entry to the response shape.
func FromAuditEntry(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        e.ID,
		FieldName: e.FieldName,
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		Reason:    e.Reason,
		ActorID:   e.ActorID,
		CreatedAt: e.CreatedAt,
	}
}
