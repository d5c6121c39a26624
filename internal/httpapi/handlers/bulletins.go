package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpkit"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

type CreateStoryRequest struct {
	ID        string       `json:"id"`
	Position  int          `json:"position"`
	Headline  string       `json:"headline"`
	Narration string       `json:"narration"`
	Cues      []models.Cue `json:"cues"`
	Status    string       `json:"status"`
	VideoKey  string       `json:"video_key"`
	AudioKey  string       `json:"audio_key"`
	PosterKey string       `json:"poster_key"`
}

type CreateBulletinRequest struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Weather         json.RawMessage      `json:"weather"`
	WeatherAudioKey string               `json:"weather_audio_key"`
	Stories         []CreateStoryRequest `json:"stories"`
}

func validStoryStatus(s string) bool {
	switch s {
	case "", models.StoryPending, models.StoryProcessing, models.StoryDone, models.StoryFailed:
		return true
	}
	return false
}

// CreateBulletin registers a bulletin whose stories were produced upstream.
func (h *Handler) CreateBulletin(w http.ResponseWriter, r *http.Request) error {
	var req CreateBulletinRequest
	if err := httpkit.DecodeJSON(w, r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return errors.Validation("title is required").WithField("field", "title")
	}

	b := &models.Bulletin{
		ID:              strings.TrimSpace(req.ID),
		Title:           strings.TrimSpace(req.Title),
		Weather:         req.Weather,
		WeatherAudioKey: strings.TrimSpace(req.WeatherAudioKey),
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	seen := make(map[int]bool, len(req.Stories))
	for i, s := range req.Stories {
		field := fmt.Sprintf("stories[%d]", i)
		if seen[s.Position] {
			return errors.Validation("duplicate story position").WithField("field", field+".position")
		}
		seen[s.Position] = true
		if !validStoryStatus(s.Status) {
			return errors.Validation("unknown story status " + s.Status).WithField("field", field+".status")
		}
		id := strings.TrimSpace(s.ID)
		if id == "" {
			id = uuid.NewString()
		}
		b.Stories = append(b.Stories, models.Story{
			ID:        id,
			Position:  s.Position,
			Headline:  s.Headline,
			Narration: s.Narration,
			Cues:      s.Cues,
			Status:    s.Status,
			VideoKey:  strings.TrimSpace(s.VideoKey),
			AudioKey:  strings.TrimSpace(s.AudioKey),
			PosterKey: strings.TrimSpace(s.PosterKey),
		})
	}

	if err := h.store.Create(r.Context(), b); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("bulletin created", "bulletin_id", b.ID, "stories", len(b.Stories))

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"bulletin": b})
	return nil
}

func (h *Handler) GetBulletin(w http.ResponseWriter, r *http.Request) error {
	b, err := h.store.Get(r.Context(), chi.URLParam(r, "bulletinId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"bulletin": b})
	return nil
}

// PostRender queues a render. It refuses while a render owns the bulletin
// and while any story is still being produced.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id := chi.URLParam(r, "bulletinId")
	log := h.log.FromContext(ctx)

	b, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Rendering() {
		return errors.Conflict("render already in progress")
	}
	if !b.Renderable() {
		return errors.New(errors.CodeInvalidState, "bulletin has stories still in production")
	}

	if err := h.store.MarkQueued(ctx, id); err != nil {
		return err
	}
	if err := h.queue.Push(ctx, id); err != nil {
		log.LogError(ctx, "enqueue failed", err)
		// Leave a terminal state rather than a queued bulletin no worker will see.
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if merr := h.store.MarkFailed(mctx, id, "enqueue failed: "+err.Error(), ""); merr != nil {
			log.LogError(ctx, "failed to mark bulletin after enqueue error", merr)
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "api.PostRender", "render queue unavailable")
	}

	log.Info("render queued")
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"bulletin_id":   id,
		"render_status": models.RenderQueued,
	})
	return nil
}

type RenderStatusResponse struct {
	BulletinID      string `json:"bulletin_id"`
	RenderStatus    string `json:"render_status"`
	RenderProgress  int    `json:"render_progress"`
	RenderStep      string `json:"render_step"`
	RenderError     string `json:"render_error"`
	RenderedVideoID string `json:"rendered_video_id"`
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "bulletinId")
	b, err := h.store.Get(r.Context(), id)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, RenderStatusResponse{
		BulletinID:      b.ID,
		RenderStatus:    b.RenderStatus,
		RenderProgress:  b.RenderProgress,
		RenderStep:      b.RenderStep,
		RenderError:     b.RenderError,
		RenderedVideoID: b.RenderedVideoID,
	})
	return nil
}
