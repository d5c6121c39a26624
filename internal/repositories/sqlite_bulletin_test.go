package repositories

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

func openTestStore(t *testing.T) *SQLiteBulletinRepository {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "bulletins.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedBulletin(t *testing.T, store BulletinStore, id string) *models.Bulletin {
	t.Helper()
	b := &models.Bulletin{
		ID:      id,
		Title:   "Morning bulletin",
		Weather: []byte(`{"summary":"sunny"}`),
		Stories: []models.Story{
			{ID: id + "-s2", Position: 2, Headline: "Second", Status: models.StoryDone},
			{ID: id + "-s1", Position: 1, Headline: "First", Status: models.StoryDone,
				Cues: []models.Cue{{Start: 0, End: 1.5, Text: "Hello"}}},
		},
	}
	if err := store.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func TestCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	seedBulletin(t, store, "b1")

	got, err := store.Get(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BulletinDraft {
		t.Errorf("expected draft status, got %q", got.Status)
	}
	if len(got.Stories) != 2 || got.Stories[0].Position != 1 {
		t.Fatalf("stories not ordered by position: %+v", got.Stories)
	}
	if len(got.Stories[0].Cues) != 1 || got.Stories[0].Cues[0].Text != "Hello" {
		t.Errorf("cues not round-tripped: %+v", got.Stories[0].Cues)
	}
	if string(got.Weather) != `{"summary":"sunny"}` {
		t.Errorf("weather not preserved: %s", got.Weather)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}
}

func TestCreateDuplicate(t *testing.T) {
	store := openTestStore(t)
	seedBulletin(t, store, "b1")

	err := store.Create(context.Background(), &models.Bulletin{ID: "b1"})
	if !errors.IsCode(err, errors.CodeConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRenderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedBulletin(t, store, "b1")

	if err := store.MarkQueued(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRendering(ctx, "b1"); err != nil {
		t.Fatal(err)
	}

	t.Run("queue refused while rendering", func(t *testing.T) {
		if err := store.MarkQueued(ctx, "b1"); !errors.Is(err, ErrRenderInProgress) {
			t.Errorf("expected ErrRenderInProgress, got %v", err)
		}
		if err := store.MarkRendering(ctx, "b1"); !errors.Is(err, ErrRenderInProgress) {
			t.Errorf("expected ErrRenderInProgress, got %v", err)
		}
	})

	t.Run("progress is monotonic", func(t *testing.T) {
		steps := []struct {
			pct  int
			step string
		}{
			{10, "segmenting"}, {36, "story 1"}, {20, "late update"}, {36, "story 1"}, {70, "concatenating"},
		}
		for _, s := range steps {
			if err := store.UpdateProgress(ctx, "b1", s.pct, s.step); err != nil {
				t.Fatal(err)
			}
		}
		got, _ := store.Get(ctx, "b1")
		if got.RenderProgress != 70 || got.RenderStep != "concatenating" {
			t.Errorf("expected 70/concatenating, got %d/%s", got.RenderProgress, got.RenderStep)
		}

		_ = store.UpdateProgress(ctx, "b1", 40, "regress")
		got, _ = store.Get(ctx, "b1")
		if got.RenderProgress != 70 || got.RenderStep != "concatenating" {
			t.Errorf("lower percent must not overwrite: %d/%s", got.RenderProgress, got.RenderStep)
		}
	})

	t.Run("done stores asset and log tail", func(t *testing.T) {
		log := strings.Repeat("x", 6000) + "END"
		if err := store.MarkDone(ctx, "b1", "asset-123", log); err != nil {
			t.Fatal(err)
		}
		got, _ := store.Get(ctx, "b1")
		if got.RenderStatus != models.RenderDone || got.RenderProgress != 100 {
			t.Errorf("unexpected state %s/%d", got.RenderStatus, got.RenderProgress)
		}
		if got.RenderedVideoID != "asset-123" {
			t.Errorf("expected asset id, got %q", got.RenderedVideoID)
		}
		if len(got.RenderLog) != maxLogLen || !strings.HasSuffix(got.RenderLog, "END") {
			t.Errorf("expected %d char log tail, got %d", maxLogLen, len(got.RenderLog))
		}
	})

	t.Run("progress ignored once finished", func(t *testing.T) {
		_ = store.UpdateProgress(ctx, "b1", 5, "stale")
		got, _ := store.Get(ctx, "b1")
		if got.RenderStep != "complete" {
			t.Errorf("finished bulletin should keep its step, got %s", got.RenderStep)
		}
	})
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedBulletin(t, store, "b1")
	_ = store.MarkRendering(ctx, "b1")

	if err := store.MarkFailed(ctx, "b1", strings.Repeat("e", 3000), "tail"); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "b1")
	if got.RenderStatus != models.RenderFailed {
		t.Errorf("expected failed, got %s", got.RenderStatus)
	}
	if len(got.RenderError) != maxErrorLen {
		t.Errorf("expected error truncated to %d, got %d", maxErrorLen, len(got.RenderError))
	}

	// A failed bulletin can be re-rendered.
	if err := store.MarkQueued(ctx, "b1"); err != nil {
		t.Errorf("re-render after failure refused: %v", err)
	}
}

func TestMarkQueuedMissing(t *testing.T) {
	store := openTestStore(t)

	if err := store.MarkQueued(context.Background(), "ghost"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMarkInterrupted(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedBulletin(t, store, "old")
	seedBulletin(t, store, "fresh")

	start := time.Now()
	store.now = func() time.Time { return start.Add(-3 * time.Hour) }
	_ = store.MarkRendering(ctx, "old")
	store.now = func() time.Time { return start }
	_ = store.MarkRendering(ctx, "fresh")

	n, err := store.MarkInterrupted(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 interrupted render, got %d", n)
	}

	old, _ := store.Get(ctx, "old")
	if old.RenderStatus != models.RenderFailed || old.RenderError != InterruptedMessage {
		t.Errorf("stale render not failed: %s %q", old.RenderStatus, old.RenderError)
	}
	fresh, _ := store.Get(ctx, "fresh")
	if fresh.RenderStatus != models.RenderRendering {
		t.Errorf("active render touched: %s", fresh.RenderStatus)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}
