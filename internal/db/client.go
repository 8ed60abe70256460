package db

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewDb connects a pgx pool and wraps it in the Database adapter.
func NewDb(ctx context.Context, dsn string) (*Database, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewDatabase(pool), nil
}
