package repositories

import (
	"context"
	"embed"
	"encoding/json"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

var (
	ErrBulletinNotFound = errors.New(errors.CodeNotFound, "bulletin not found")
	ErrRenderInProgress = errors.New(errors.CodeConflict, "render already in progress")
	ErrBulletinExists   = errors.New(errors.CodeConflict, "bulletin already exists")
)

// InterruptedMessage is stored as render_error on renders abandoned by a
// crashed worker.
const InterruptedMessage = "render interrupted: worker stopped before completion"

// BulletinStore persists bulletins and their render lifecycle. The render
// fields are written only through the Mark* and UpdateProgress operations.
type BulletinStore interface {
	// Get loads a bulletin with its stories ordered by position.
	Get(ctx context.Context, id string) (*models.Bulletin, error)
	Create(ctx context.Context, b *models.Bulletin) error

	// MarkQueued refuses with ErrRenderInProgress while a render owns the
	// bulletin.
	MarkQueued(ctx context.Context, id string) error
	// MarkRendering starts an attempt: progress resets to 0 and the previous
	// error is cleared.
	MarkRendering(ctx context.Context, id string) error
	// UpdateProgress never lowers the stored percent and is ignored unless
	// the bulletin is rendering.
	UpdateProgress(ctx context.Context, id string, percent int, step string) error
	MarkDone(ctx context.Context, id, assetID, log string) error
	MarkFailed(ctx context.Context, id, errMsg, log string) error

	// MarkInterrupted fails renders whose last update is older than
	// staleAfter and returns how many were changed.
	MarkInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	maxErrorLen = 2000
	maxLogLen   = 5000
)

// truncateHead keeps the first n bytes, for error messages.
func truncateHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// truncateTail keeps the last n bytes, for logs.
func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func encodeCues(cues []models.Cue) ([]byte, error) {
	if cues == nil {
		cues = []models.Cue{}
	}
	return json.Marshal(cues)
}

func decodeCues(raw []byte) ([]models.Cue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cues []models.Cue
	if err := json.Unmarshal(raw, &cues); err != nil {
		return nil, err
	}
	return cues, nil
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
