package domain

import "time"

// AuditEntry is an immutable record of a single field-level change on a
// ticket. Entries are created once and never updated or deleted.
type AuditEntry struct {
	ID        int64
	TicketID  int64
	FieldName string
	OldValue  string
	NewValue  string
	Reason    string
	ActorID   int64
	CreatedAt time.Time
}

// Audit field names recorded by the lifecycle engine.
const (
	AuditFieldStatus   = "status"
	AuditFieldAssignee = "assigned_to"
	AuditFieldRemark   = "remark"
)
