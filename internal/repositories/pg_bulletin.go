package repositories

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpkit"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

// PGBulletinRepository is the Postgres BulletinStore.
type PGBulletinRepository struct {
	db *pgxpool.Pool
}

func NewPGBulletinRepository(db *pgxpool.Pool) *PGBulletinRepository {
	return &PGBulletinRepository{db: db}
}

// Migrate applies the embedded Postgres migrations that have not run yet.
func (r *PGBulletinRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return errors.Wrap(err, "repositories.Migrate", "create schema_migrations")
	}

	names, err := fs.Glob(migrationsFS, "migrations/postgres/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name,
		).Scan(&applied); err != nil {
			return errors.Wrap(err, "repositories.Migrate", "check migration")
		}
		if applied {
			continue
		}

		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "repositories.Migrate", "apply %s", name)
		}
	}
	return nil
}

func (r *PGBulletinRepository) Get(ctx context.Context, id string) (*models.Bulletin, error) {
	var b models.Bulletin
	var weather []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, title, status, weather, weather_audio_key,
		       render_status, render_progress, render_step, render_error, render_log, rendered_video_id,
		       created_at, updated_at
		FROM bulletins
		WHERE id=$1
	`, id).Scan(
		&b.ID, &b.Title, &b.Status, &weather, &b.WeatherAudioKey,
		&b.RenderStatus, &b.RenderProgress, &b.RenderStep, &b.RenderError, &b.RenderLog, &b.RenderedVideoID,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBulletinNotFound
		}
		return nil, errors.Wrap(err, "repositories.Get", "load bulletin")
	}
	b.Weather = weather

	rows, err := r.db.Query(ctx, `
		SELECT id, bulletin_id, position, headline, narration, cues, status, video_key, audio_key, poster_key
		FROM stories
		WHERE bulletin_id=$1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "repositories.Get", "load stories")
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Story
		var cues []byte
		if err := rows.Scan(&s.ID, &s.BulletinID, &s.Position, &s.Headline, &s.Narration,
			&cues, &s.Status, &s.VideoKey, &s.AudioKey, &s.PosterKey); err != nil {
			return nil, err
		}
		if s.Cues, err = decodeCues(cues); err != nil {
			return nil, fmt.Errorf("story %s cues: %w", s.ID, err)
		}
		b.Stories = append(b.Stories, s)
	}
	return &b, rows.Err()
}

func (r *PGBulletinRepository) Create(ctx context.Context, b *models.Bulletin) error {
	if b.Status == "" {
		b.Status = models.BulletinDraft
	}
	var weather []byte
	if len(b.Weather) > 0 {
		weather = b.Weather
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO bulletins (id, title, status, weather, weather_audio_key)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING created_at, updated_at
		`, b.ID, b.Title, b.Status, weather, b.WeatherAudioKey).Scan(&b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			if httpkit.IsUniqueViolation(err) {
				return ErrBulletinExists
			}
			return err
		}

		for i := range b.Stories {
			s := &b.Stories[i]
			s.BulletinID = b.ID
			if s.Status == "" {
				s.Status = models.StoryPending
			}
			cues, err := encodeCues(s.Cues)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO stories (id, bulletin_id, position, headline, narration, cues, status, video_key, audio_key, poster_key)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, s.ID, s.BulletinID, s.Position, s.Headline, s.Narration, cues, s.Status,
				s.VideoKey, s.AudioKey, s.PosterKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PGBulletinRepository) MarkQueued(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_status='queued', render_progress=0, render_step='queued', render_error='', updated_at=now()
		WHERE id=$1 AND render_status <> 'rendering'
	`, id)
	if err != nil {
		return errors.Wrap(err, "repositories.MarkQueued", "update bulletin")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, ErrRenderInProgress)
	}
	return nil
}

func (r *PGBulletinRepository) MarkRendering(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_status='rendering', render_progress=0, render_step='preparing', render_error='', updated_at=now()
		WHERE id=$1 AND render_status <> 'rendering'
	`, id)
	if err != nil {
		return errors.Wrap(err, "repositories.MarkRendering", "update bulletin")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, ErrRenderInProgress)
	}
	return nil
}

func (r *PGBulletinRepository) UpdateProgress(ctx context.Context, id string, percent int, step string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_step = CASE WHEN $2::int >= render_progress THEN $3 ELSE render_step END,
		    render_progress = GREATEST(render_progress, $2::int),
		    updated_at = now()
		WHERE id=$1 AND render_status='rendering'
	`, id, clampPercent(percent), step)
	if err != nil {
		return errors.Wrap(err, "repositories.UpdateProgress", "update bulletin")
	}
	return nil
}

func (r *PGBulletinRepository) MarkDone(ctx context.Context, id, assetID, log string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_status='done', render_progress=100, render_step='complete', render_error='',
		    rendered_video_id=$2, render_log=$3, updated_at=now()
		WHERE id=$1
	`, id, assetID, truncateTail(log, maxLogLen))
	if err != nil {
		return errors.Wrap(err, "repositories.MarkDone", "update bulletin")
	}
	return nil
}

func (r *PGBulletinRepository) MarkFailed(ctx context.Context, id, errMsg, log string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_status='failed', render_step='failed', render_error=$2, render_log=$3, updated_at=now()
		WHERE id=$1
	`, id, truncateHead(errMsg, maxErrorLen), truncateTail(log, maxLogLen))
	if err != nil {
		return errors.Wrap(err, "repositories.MarkFailed", "update bulletin")
	}
	return nil
}

func (r *PGBulletinRepository) MarkInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE bulletins
		SET render_status='failed', render_step='failed', render_error=$2, updated_at=now()
		WHERE render_status='rendering' AND updated_at < now() - make_interval(secs => $1)
	`, staleAfter.Seconds(), InterruptedMessage)
	if err != nil {
		return 0, errors.Wrap(err, "repositories.MarkInterrupted", "update bulletins")
	}
	return tag.RowsAffected(), nil
}

func (r *PGBulletinRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (r *PGBulletinRepository) Close() error { return nil }

func (r *PGBulletinRepository) missingOr(ctx context.Context, id string, err error) error {
	var exists bool
	if qerr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bulletins WHERE id=$1)`, id).Scan(&exists); qerr != nil {
		return qerr
	}
	if !exists {
		return ErrBulletinNotFound
	}
	return err
}
