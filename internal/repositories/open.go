package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

// Open returns the Postgres store when databaseURL is set and the sqlite
// store at sqlitePath otherwise. Migrations are applied either way. The pool
// is nil for sqlite; closing it is the caller's job.
func Open(ctx context.Context, databaseURL, sqlitePath string, log *logger.Logger) (BulletinStore, *pgxpool.Pool, error) {
	if databaseURL == "" {
		store, err := OpenSQLite(sqlitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	store := NewPGBulletinRepository(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}
