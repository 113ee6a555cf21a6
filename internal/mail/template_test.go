package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk/internal/domain"
)

func sampleTicket() domain.Ticket {
	return domain.Ticket{
		ID:          7,
		Number:      "TK202601150042",
		Title:       "Printer on fire",
		Description: "The third floor printer is smoking.",
		Urgency:     domain.TicketUrgencyHigh,
		Status:      domain.TicketStatusOpen,
		CreatedBy:   3,
		CreatedAt:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func sampleActor() domain.User {
	return domain.User{ID: 3, Name: "Dana", Email: "dana@example.com", Role: domain.RoleGeneralUser}
}

func TestRenderCreatedIsDeterministic(t *testing.T) {
	subject1, body1 := RenderCreated(sampleTicket(), sampleActor())
	subject2, body2 := RenderCreated(sampleTicket(), sampleActor())
	assert.Equal(t, subject1, subject2)
	assert.Equal(t, body1, body2)
}

func TestRenderUpdatedIsDeterministic(t *testing.T) {
	subject1, body1 := RenderUpdated(sampleTicket(), sampleActor(), "looking into it")
	subject2, body2 := RenderUpdated(sampleTicket(), sampleActor(), "looking into it")
	assert.Equal(t, subject1, subject2)
	assert.Equal(t, body1, body2)
}

func TestRenderCreatedContent(t *testing.T) {
	subject, body := RenderCreated(sampleTicket(), sampleActor())
	assert.Equal(t, "New ticket TK202601150042: Printer on fire", subject)
	assert.Contains(t, body, "filed by Dana")
	assert.Contains(t, body, "TK202601150042")
	assert.Contains(t, body, "Urgency: High")
	assert.Contains(t, body, "automated message")
}

func TestRenderUpdatedReflectsStatusAndRemark(t *testing.T) {
	ticket := sampleTicket()
	ticket.Status = domain.TicketStatusResolved
	subject, body := RenderUpdated(ticket, sampleActor(), "rebooted the printer")
	assert.Equal(t, "Ticket TK202601150042 updated: Resolved", subject)
	assert.Contains(t, body, "Status: Resolved")
	assert.Contains(t, body, "Remark: rebooted the printer")
}

func TestRenderApprovalRequiredContent(t *testing.T) {
	ticket := sampleTicket()
	ticket.Status = domain.TicketStatusPendingApproval
	subject, body := RenderApprovalRequired(ticket, sampleActor())
	assert.Equal(t, "Approval required for ticket TK202601150042", subject)
	assert.Contains(t, body, "waiting for your approval")
}
