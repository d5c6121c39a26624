package lock

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

// PGLocker uses session-level Postgres advisory locks. Session locks belong
// to one connection, so each lease pins a pool connection until release.
type PGLocker struct {
	pool *pgxpool.Pool
}

func NewPGLocker(pool *pgxpool.Pool) *PGLocker {
	return &PGLocker{pool: pool}
}

func (p *PGLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	const op = "lock.PGLocker.TryAcquire"

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, errors.WrapWithCode(err, errors.CodeUnavailable, op, "acquire connection")
	}

	id := KeyFor(key)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, errors.Wrap(err, op, "pg_try_advisory_lock")
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return &pgLease{conn: conn, id: id}, true, nil
}

type pgLease struct {
	conn *pgxpool.Conn
	id   int64
	once sync.Once
	err  error
}

func (l *pgLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		var released bool
		err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.id).Scan(&released)
		if err != nil {
			// The session may still hold the lock; closing it is the only
			// sure way to drop it.
			_ = l.conn.Conn().Close(context.Background())
			l.err = errors.Wrap(err, "lock.pgLease.Release", "pg_advisory_unlock")
		}
		l.conn.Release()
	})
	return l.err
}
