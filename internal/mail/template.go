package mail

import (
	"fmt"
	"strings"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Templates are pure functions of their snapshots: identical inputs produce
// byte-identical subject and body, which keeps them golden-file testable.
// No live timestamps appear outside the fixed footer boilerplate.

const bodyFooter = "<p>This is an automated message from the helpdesk. Please do not reply directly to this email.</p>"

// RenderCreated renders the notification for a ticket created in Open.
func RenderCreated(ticket domain.Ticket, actor domain.User) (subject, body string) {
	subject = fmt.Sprintf("New ticket %s: %s", ticket.Number, ticket.Title)
	body = renderBody(
		fmt.Sprintf("A new ticket has been filed by %s.", actor.Name),
		ticket,
		"",
	)
	return subject, body
}

// RenderUpdated renders the notification for a committed status, assignment
// or remark change.
func RenderUpdated(ticket domain.Ticket, actor domain.User, comment string) (subject, body string) {
	subject = fmt.Sprintf("Ticket %s updated: %s", ticket.Number, ticket.Status)
	body = renderBody(
		fmt.Sprintf("Your ticket was updated by %s.", actor.Name),
		ticket,
		comment,
	)
	return subject, body
}

// RenderApprovalRequired renders the notification asking an approver to
// triage a pending ticket.
func RenderApprovalRequired(ticket domain.Ticket, actor domain.User) (subject, body string) {
	subject = fmt.Sprintf("Approval required for ticket %s", ticket.Number)
	body = renderBody(
		fmt.Sprintf("A ticket filed by %s is waiting for your approval.", actor.Name),
		ticket,
		"",
	)
	return subject, body
}

func renderBody(lead string, ticket domain.Ticket, comment string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s</p>", lead)
	fmt.Fprintf(&b, "<p><strong>%s</strong>: %s</p>", ticket.Number, ticket.Title)
	fmt.Fprintf(&b, "<p>Status: %s<br>Urgency: %s</p>", ticket.Status, ticket.Urgency)
	if ticket.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>", ticket.Description)
	}
	if comment != "" {
		fmt.Fprintf(&b, "<p>Remark: %s</p>", comment)
	}
	b.WriteString(bodyFooter)
	return b.String()
}
