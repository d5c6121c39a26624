package models

import (
	"encoding/json"
	"time"
)

// Bulletin editorial status.
const (
	BulletinDraft     = "draft"
	BulletinReady     = "ready"
	BulletinPublished = "published"
)

// Render lifecycle of a bulletin.
const (
	RenderQueued    = "queued"
	RenderRendering = "rendering"
	RenderDone      = "done"
	RenderFailed    = "failed"
)

// Story processing status.
const (
	StoryPending    = "pending"
	StoryProcessing = "processing"
	StoryDone       = "done"
	StoryFailed     = "failed"
)

type Bulletin struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Status          string          `json:"status"`
	Weather         json.RawMessage `json:"weather,omitempty"`
	WeatherAudioKey string          `json:"weather_audio_key,omitempty"`

	RenderStatus    string `json:"render_status,omitempty"`
	RenderProgress  int    `json:"render_progress"`
	RenderStep      string `json:"render_step,omitempty"`
	RenderError     string `json:"render_error,omitempty"`
	RenderLog       string `json:"render_log,omitempty"`
	RenderedVideoID string `json:"rendered_video_id,omitempty"`

	Stories   []Story   `json:"stories"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Renderable reports whether every story reached a terminal state.
func (b *Bulletin) Renderable() bool {
	if len(b.Stories) == 0 {
		return false
	}
	for _, s := range b.Stories {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// Rendering reports whether a render currently owns the bulletin.
func (b *Bulletin) Rendering() bool {
	return b.RenderStatus == RenderRendering
}

type Story struct {
	ID         string `json:"id"`
	BulletinID string `json:"bulletin_id"`
	Position   int    `json:"position"`
	Headline   string `json:"headline"`
	Narration  string `json:"narration"`
	Cues       []Cue  `json:"cues,omitempty"`
	Status     string `json:"status"`

	// Asset store keys; empty when the asset does not exist.
	VideoKey  string `json:"video_key,omitempty"`
	AudioKey  string `json:"audio_key,omitempty"`
	PosterKey string `json:"poster_key,omitempty"`
}

func (s Story) Terminal() bool {
	return s.Status == StoryDone || s.Status == StoryFailed
}

// Cue is one caption unit, timed in seconds against the estimated narration
// length.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
