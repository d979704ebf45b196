package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// PostgresStore reads the first row of the profiles table.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore creates a store over a database/sql handle opened with the pgx driver.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		panic("profile: db required")
	}
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("leadrelay.internal.profile"),
	}
}

const currentProfileQuery = `
	SELECT COALESCE(company_name, ''), COALESCE(ai_name, ''),
		COALESCE(calendly_url, ''), COALESCE(welcome_message, '')
	FROM profiles
	ORDER BY created_at
	LIMIT 1
`

// Current implements Store.
func (s *PostgresStore) Current(ctx context.Context) (Config, error) {
	ctx, span := s.tracer.Start(ctx, "profile.current")
	defer span.End()

	var cfg Config
	err := s.db.QueryRowContext(ctx, currentProfileQuery).Scan(
		&cfg.CompanyName,
		&cfg.AssistantName,
		&cfg.SchedulingLink,
		&cfg.CustomSystemPrompt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrProfileNotFound
		}
		span.RecordError(err)
		return Config{}, fmt.Errorf("profile: select: %w", err)
	}
	return cfg, nil
}
