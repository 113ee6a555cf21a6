package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// ErrStaleStatus signals that a conditional status update observed a status
// other than the expected one. The caller maps this to a Conflict.
var ErrStaleStatus = fmt.Errorf("ticket status changed concurrently")

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedBy   *int64
	AssignedTo  *int64
	Statuses    []domain.TicketStatus
	Urgencies   []domain.TicketUrgency
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// StatusMutation carries the fields written together with a conditional
// status change so the whole transition commits as one statement.
type StatusMutation struct {
	AssignedTo *int64
	ApprovedBy *int64
	RejectedBy *int64
	Remark     *string
	ResolvedAt *time.Time
	ApprovedAt *time.Time
	RejectedAt *time.Time
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	// UpdateStatusWhere performs a compare-and-swap status transition: the
	// update only applies while the row still holds the expected status.
	// Returns ErrStaleStatus when another writer won the race.
	UpdateStatusWhere(ctx context.Context, id int64, expected, next domain.TicketStatus, mutation StatusMutation) (*domain.Ticket, error)
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, title, description, category_id, subcategory_id, urgency, type, status,
               created_by, assigned_to, approved_by, rejected_by, remark,
               created_at, updated_at, resolved_at, approved_at, rejected_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (number, title, description, category_id, subcategory_id, urgency, type, status, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Number,
		ticket.Title,
		ticket.Description,
		ticket.CategoryID,
		ticket.SubcategoryID,
		ticket.Urgency,
		ticket.Type,
		ticket.Status,
		ticket.CreatedBy,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, urgency=$3, status=$4, assigned_to=$5,
            remark=$6, resolved_at=$7, updated_at=NOW()
        WHERE id=$8`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Urgency,
		ticket.Status,
		ticket.AssignedTo,
		ticket.Remark,
		ticket.ResolvedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) UpdateStatusWhere(ctx context.Context, id int64, expected, next domain.TicketStatus, mutation StatusMutation) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets SET status=$1,
            assigned_to=COALESCE($2, assigned_to),
            approved_by=COALESCE($3, approved_by),
            rejected_by=COALESCE($4, rejected_by),
            remark=COALESCE($5, remark),
            resolved_at=COALESCE($6, resolved_at),
            approved_at=COALESCE($7, approved_at),
            rejected_at=COALESCE($8, rejected_at),
            updated_at=NOW()
        WHERE id=$9 AND status=$10
        RETURNING ` + ticketColumns
	row := r.pool.QueryRow(ctx, query,
		next,
		mutation.AssignedTo,
		mutation.ApprovedBy,
		mutation.RejectedBy,
		mutation.Remark,
		mutation.ResolvedAt,
		mutation.ApprovedAt,
		mutation.RejectedAt,
		id,
		expected,
	)
	ticket, err := scanTicketRow(row)
	if err == pgx.ErrNoRows {
		// the row either does not exist or lost the race; disambiguate
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrStaleStatus
		}
		return nil, pgx.ErrNoRows
	}
	return ticket, err
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicketRow(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE number=$1`
	return scanTicketRow(r.pool.QueryRow(ctx, query, number))
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Urgencies) > 0 {
		placeholders := make([]string, len(filter.Urgencies))
		for i, urgency := range filter.Urgencies {
			args = append(args, urgency)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("urgency IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicketRow(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Description,
		&ticket.CategoryID,
		&ticket.SubcategoryID,
		&ticket.Urgency,
		&ticket.Type,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.ApprovedBy,
		&ticket.RejectedBy,
		&ticket.Remark,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ApprovedAt,
		&ticket.RejectedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
