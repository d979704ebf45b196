package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

// querier is the subset of pgxpool.Pool the repository needs; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool   querier
	now    func() time.Time
	tracer trace.Tracer
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return newPostgresRepository(pool)
}

func newPostgresRepository(q querier) *PostgresRepository {
	return &PostgresRepository{
		pool:   q,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("leadrelay.internal.leads"),
	}
}

const (
	leadColumns   = `id, name, phone, status, source, conversation_history, ai_paused, created_at, updated_at`
	selectColumns = `id, COALESCE(name, ''), phone, status, COALESCE(source, ''), conversation_history, ai_paused, created_at, updated_at`
)

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, lead *Lead) error {
	if err := prepareNew(lead, r.now()); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "leads.create", trace.WithAttributes(attribute.String("lead.id", lead.ID)))
	defer span.End()

	history, err := EncodeHistory(lead.History)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.Name,
		lead.Phone,
		string(lead.Status),
		lead.Source,
		history,
		lead.AIPaused,
		lead.CreatedAt,
		lead.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicatePhone
		}
		span.RecordError(err)
		return fmt.Errorf("leads: insert failed: %w", err)
	}
	return nil
}

// GetByID fetches a lead by primary key. An id that is not a UUID cannot
// match any row and is reported as not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrLeadNotFound
	}
	query := `SELECT ` + selectColumns + ` FROM leads WHERE id = $1`
	return r.getOne(ctx, "leads.get_by_id", query, id)
}

// GetByPhone fetches the lead owning the E.164 phone.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	query := `SELECT ` + selectColumns + ` FROM leads WHERE phone = $1`
	return r.getOne(ctx, "leads.get_by_phone", query, phone)
}

func (r *PostgresRepository) getOne(ctx context.Context, spanName, query string, arg string) (*Lead, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	lead, err := scanLead(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// Update writes every mutable column of the lead.
func (r *PostgresRepository) Update(ctx context.Context, lead *Lead) error {
	if lead.ID == "" {
		return ErrMissingID
	}
	if _, err := uuid.Parse(lead.ID); err != nil {
		return ErrLeadNotFound
	}
	ctx, span := r.tracer.Start(ctx, "leads.update", trace.WithAttributes(attribute.String("lead.id", lead.ID)))
	defer span.End()

	history, err := EncodeHistory(lead.History)
	if err != nil {
		return err
	}
	lead.UpdatedAt = r.now()

	query := `
		UPDATE leads
		SET name = $2, phone = $3, status = $4, source = $5,
			conversation_history = $6, ai_paused = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.Name,
		lead.Phone,
		string(lead.Status),
		lead.Source,
		history,
		lead.AIPaused,
		lead.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicatePhone
		}
		span.RecordError(err)
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// List returns leads newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = filter.normalized()
	ctx, span := r.tracer.Start(ctx, "leads.list", trace.WithAttributes(attribute.String("lead.status", string(filter.Status))))
	defer span.End()

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + selectColumns + ` FROM leads`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&b, " WHERE status = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*Lead, 0, filter.Limit)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	return out, nil
}

// scanLead reads one row. Status and history are decoded leniently so rows
// written by older clients still load.
func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead    Lead
		status  string
		history []byte
	)
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Phone,
		&status,
		&lead.Source,
		&history,
		&lead.AIPaused,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lead.Status = ParseStatus(status)
	lead.History = DecodeHistory(history)
	return &lead, nil
}
