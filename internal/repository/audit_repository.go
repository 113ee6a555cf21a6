package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// AuditRepository stores the append-only change ledger. There is no update
// or delete on purpose.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	ListByTicket(ctx context.Context, ticketID int64, limit, offset int) ([]domain.AuditEntry, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO ticket_audit (ticket_id, field_name, old_value, new_value, reason, actor_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.TicketID,
		entry.FieldName,
		entry.OldValue,
		entry.NewValue,
		entry.Reason,
		entry.ActorID,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID int64, limit, offset int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, ticket_id, field_name, old_value, new_value, reason, actor_id, created_at
        FROM ticket_audit WHERE ticket_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.FieldName,
			&entry.OldValue,
			&entry.NewValue,
			&entry.Reason,
			&entry.ActorID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
