package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meikuraledutech/flow"
)

// DBPool is the subset of *pgxpool.Pool the store needs.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore implements flow.FlowStore and flow.SessionStore using PostgreSQL
// via pgx.
type PGStore struct {
	db DBPool
}

var (
	_ flow.FlowStore    = (*PGStore)(nil)
	_ flow.SessionStore = (*PGStore)(nil)
)

// New creates a new PGStore backed by the given pgx connection pool.
func New(db DBPool) *PGStore {
	return &PGStore{db: db}
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
