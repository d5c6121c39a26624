package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

// SQLiteBulletinRepository is the single-node BulletinStore. Timestamps are
// stored as unix milliseconds.
type SQLiteBulletinRepository struct {
	conn *sql.DB
	log  *logger.Logger
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded migrations. ":memory:" is accepted.
func OpenSQLite(path string, log *logger.Logger) (*SQLiteBulletinRepository, error) {
	if log == nil {
		log = logger.Discard()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("execute %s: %w", p, err)
		}
	}

	r := &SQLiteBulletinRepository{
		conn: conn,
		log:  log.WithComponent("sqlite_store"),
		now:  time.Now,
	}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteBulletinRepository) migrate() error {
	if _, err := r.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY)`); err != nil {
		return err
	}

	names, err := fs.Glob(migrationsFS, "migrations/sqlite/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := r.conn.QueryRow(`SELECT COUNT(1) FROM _migrations WHERE name = ?`, name).Scan(&applied)
		if err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.conn.Exec(string(body)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := r.conn.Exec(`INSERT INTO _migrations (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		r.log.Info("applied migration", "name", name)
	}
	return nil
}

func (r *SQLiteBulletinRepository) stamp() int64 {
	return r.now().UnixMilli()
}

func (r *SQLiteBulletinRepository) Get(ctx context.Context, id string) (*models.Bulletin, error) {
	var b models.Bulletin
	var weather sql.NullString
	var created, updated int64
	err := r.conn.QueryRowContext(ctx, `
		SELECT id, title, status, weather, weather_audio_key,
		       render_status, render_progress, render_step, render_error, render_log, rendered_video_id,
		       created_at, updated_at
		FROM bulletins
		WHERE id = ?
	`, id).Scan(
		&b.ID, &b.Title, &b.Status, &weather, &b.WeatherAudioKey,
		&b.RenderStatus, &b.RenderProgress, &b.RenderStep, &b.RenderError, &b.RenderLog, &b.RenderedVideoID,
		&created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBulletinNotFound
		}
		return nil, errors.Wrap(err, "repositories.Get", "load bulletin")
	}
	if weather.Valid && weather.String != "" {
		b.Weather = []byte(weather.String)
	}
	b.CreatedAt = time.UnixMilli(created).UTC()
	b.UpdatedAt = time.UnixMilli(updated).UTC()

	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, bulletin_id, position, headline, narration, cues, status, video_key, audio_key, poster_key
		FROM stories
		WHERE bulletin_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "repositories.Get", "load stories")
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Story
		var cues string
		if err := rows.Scan(&s.ID, &s.BulletinID, &s.Position, &s.Headline, &s.Narration,
			&cues, &s.Status, &s.VideoKey, &s.AudioKey, &s.PosterKey); err != nil {
			return nil, err
		}
		if s.Cues, err = decodeCues([]byte(cues)); err != nil {
			return nil, fmt.Errorf("story %s cues: %w", s.ID, err)
		}
		b.Stories = append(b.Stories, s)
	}
	return &b, rows.Err()
}

func (r *SQLiteBulletinRepository) Create(ctx context.Context, b *models.Bulletin) error {
	if b.Status == "" {
		b.Status = models.BulletinDraft
	}
	var weather any
	if len(b.Weather) > 0 {
		weather = string(b.Weather)
	}
	now := r.stamp()

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bulletins (id, title, status, weather, weather_audio_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Title, b.Status, weather, b.WeatherAudioKey, now, now); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
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
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stories (id, bulletin_id, position, headline, narration, cues, status, video_key, audio_key, poster_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.BulletinID, s.Position, s.Headline, s.Narration, string(cues), s.Status,
			s.VideoKey, s.AudioKey, s.PosterKey); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	b.CreatedAt = time.UnixMilli(now).UTC()
	b.UpdatedAt = b.CreatedAt
	return nil
}

func (r *SQLiteBulletinRepository) MarkQueued(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_status='queued', render_progress=0, render_step='queued', render_error='', updated_at=?2
		WHERE id=?1 AND render_status <> 'rendering'
	`, id, r.stamp())
	if err != nil {
		return errors.Wrap(err, "repositories.MarkQueued", "update bulletin")
	}
	return r.checkTransition(ctx, res, id)
}

func (r *SQLiteBulletinRepository) MarkRendering(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_status='rendering', render_progress=0, render_step='preparing', render_error='', updated_at=?2
		WHERE id=?1 AND render_status <> 'rendering'
	`, id, r.stamp())
	if err != nil {
		return errors.Wrap(err, "repositories.MarkRendering", "update bulletin")
	}
	return r.checkTransition(ctx, res, id)
}

func (r *SQLiteBulletinRepository) UpdateProgress(ctx context.Context, id string, percent int, step string) error {
	_, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_step = CASE WHEN ?2 >= render_progress THEN ?3 ELSE render_step END,
		    render_progress = MAX(render_progress, ?2),
		    updated_at = ?4
		WHERE id=?1 AND render_status='rendering'
	`, id, clampPercent(percent), step, r.stamp())
	if err != nil {
		return errors.Wrap(err, "repositories.UpdateProgress", "update bulletin")
	}
	return nil
}

func (r *SQLiteBulletinRepository) MarkDone(ctx context.Context, id, assetID, log string) error {
	_, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_status='done', render_progress=100, render_step='complete', render_error='',
		    rendered_video_id=?2, render_log=?3, updated_at=?4
		WHERE id=?1
	`, id, assetID, truncateTail(log, maxLogLen), r.stamp())
	if err != nil {
		return errors.Wrap(err, "repositories.MarkDone", "update bulletin")
	}
	return nil
}

func (r *SQLiteBulletinRepository) MarkFailed(ctx context.Context, id, errMsg, log string) error {
	_, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_status='failed', render_step='failed', render_error=?2, render_log=?3, updated_at=?4
		WHERE id=?1
	`, id, truncateHead(errMsg, maxErrorLen), truncateTail(log, maxLogLen), r.stamp())
	if err != nil {
		return errors.Wrap(err, "repositories.MarkFailed", "update bulletin")
	}
	return nil
}

func (r *SQLiteBulletinRepository) MarkInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := r.now()
	res, err := r.conn.ExecContext(ctx, `
		UPDATE bulletins
		SET render_status='failed', render_step='failed', render_error=?1, updated_at=?2
		WHERE render_status='rendering' AND updated_at < ?3
	`, InterruptedMessage, now.UnixMilli(), now.Add(-staleAfter).UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "repositories.MarkInterrupted", "update bulletins")
	}
	return res.RowsAffected()
}

func (r *SQLiteBulletinRepository) Ping(ctx context.Context) error {
	return r.conn.PingContext(ctx)
}

func (r *SQLiteBulletinRepository) Close() error {
	return r.conn.Close()
}

func (r *SQLiteBulletinRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := r.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM bulletins WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrBulletinNotFound
	}
	return ErrRenderInProgress
}
