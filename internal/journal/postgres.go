package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
)

const insertEventQuery = `
INSERT INTO reminder_events (id, user_id, kind, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRecorder writes events to the reminder_events table. Failures are returned as
// database errors; callers decide how to report them.
type PostgresRecorder struct {
	db execer
}

// NewPostgresRecorder builds a recorder on top of db.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return newPostgresRecorder(db)
}

func newPostgresRecorder(db execer) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record inserts the event. A zero OccurredAt is replaced by the current time.
func (r *PostgresRecorder) Record(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, insertEventQuery,
		uuid.New(),
		event.User.Int64(),
		string(event.Kind),
		event.Detail,
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("insert journal event: %w", err))
	}

	return nil
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("open database: %w", err))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.NewDatabaseError(fmt.Errorf("ping database: %w", err))
	}

	return db, nil
}
