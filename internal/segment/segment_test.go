package segment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media/mediatest"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/subtitle"
)

func newTestRenderer() (*Renderer, *mediatest.Toolchain) {
	tools := mediatest.New()
	return NewRenderer(tools, subtitle.NewGenerator(subtitle.DefaultStyle()), DefaultProfile()), tools
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBumper(t *testing.T) {
	r, tools := newTestRenderer()
	dir := t.TempDir()
	out := filepath.Join(dir, "bumper_open.mp4")
	tools.Durations["bumper_open.mp4"] = 10

	seg, err := r.Bumper(context.Background(), "bumper_open", touch(t, filepath.Join(dir, "src.mp4")), out)
	if err != nil {
		t.Fatal(err)
	}
	if seg.Kind != KindBumper || seg.Duration != 10 || seg.Path != out {
		t.Errorf("unexpected segment %+v", seg)
	}

	call := tools.Calls()[0]
	if call.After("-t") != "10.000" {
		t.Errorf("bumper not capped: -t %q", call.After("-t"))
	}
	if call.After("-map") != "0:v:0" || !call.Has("1:a:0") {
		t.Errorf("source audio must be replaced by silence: %v", call.Args)
	}
	if !strings.HasPrefix(call.After("-vf"), "scale=1080:1920") {
		t.Errorf("expected scale/pad chain, got %q", call.After("-vf"))
	}
}

func TestStudio(t *testing.T) {
	dir := t.TempDir()
	frame := touch(t, filepath.Join(dir, "frame.png"))
	overlay := touch(t, filepath.Join(dir, "overlay.png"))
	loop := touch(t, filepath.Join(dir, "loop.mp4"))
	audio := touch(t, filepath.Join(dir, "narration.mp3"))

	tests := []struct {
		name        string
		in          StudioInput
		wantT       string
		wantSilence bool
		wantLoop    bool
		wantASS     bool
	}{
		{
			name:     "narration over loop with subtitles",
			in:       StudioInput{Label: "studio_1", Loop: loop, Overlay: overlay, Audio: audio, Cues: []models.Cue{{Start: 0, End: 2, Text: "Hi"}}},
			wantT:    "12.500",
			wantLoop: true,
			wantASS:  true,
		},
		{
			name:  "narration over static frame",
			in:    StudioInput{Label: "studio_2", Frame: frame, Audio: audio},
			wantT: "12.500",
		},
		{
			name:        "silent card",
			in:          StudioInput{Label: "studio_3", Frame: frame, Cues: []models.Cue{{Start: 0, End: 1, Text: "Placeholder"}}},
			wantT:       "5.000",
			wantSilence: true,
			wantASS:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, tools := newTestRenderer()
			tools.Durations["narration.mp3"] = 12.5
			tt.in.Out = filepath.Join(dir, tt.in.Label+".mp4")

			seg, err := r.Studio(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if seg.Kind != KindStudio {
				t.Errorf("expected studio kind, got %s", seg.Kind)
			}

			call := tools.Calls()[0]
			if call.After("-t") != tt.wantT {
				t.Errorf("expected -t %s, got %s", tt.wantT, call.After("-t"))
			}
			if got := call.Has("anullsrc=channel_layout=stereo:sample_rate=44100"); got != tt.wantSilence {
				t.Errorf("silence input = %v, want %v", got, tt.wantSilence)
			}
			if got := call.Has("-stream_loop"); got != tt.wantLoop {
				t.Errorf("looping background = %v, want %v", got, tt.wantLoop)
			}
			graph := call.After("-filter_complex")
			if got := strings.Contains(graph, "ass='"); got != tt.wantASS {
				t.Errorf("subtitle burn-in = %v, want %v (%s)", got, tt.wantASS, graph)
			}
			wantAudio := "1:a:0"
			if tt.wantLoop {
				wantAudio = "2:a:0"
			}
			if !call.Has(wantAudio) {
				t.Errorf("expected audio map %s in %v", wantAudio, call.Args)
			}
			if call.After("-c:a") != "aac" || call.After("-c:v") != "libx264" {
				t.Error("studio segment must use the shared profile")
			}
		})
	}
}

func TestStudioRequiresVisual(t *testing.T) {
	r, _ := newTestRenderer()

	_, err := r.Studio(context.Background(), StudioInput{Label: "studio_1", Out: "/tmp/x.mp4"})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = r.Studio(context.Background(), StudioInput{Label: "studio_1", Loop: "loop.mp4", Out: "/tmp/x.mp4"})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("expected validation error for loop without overlay, got %v", err)
	}
}

func TestUserVideo(t *testing.T) {
	tests := []struct {
		name       string
		noAudio    bool
		wantLabels []string
	}{
		{name: "clip with audio", wantLabels: []string{"video_1"}},
		{name: "clip without audio gets silent track", noAudio: true, wantLabels: []string{"video_1", "video_1_silence"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, tools := newTestRenderer()
			dir := t.TempDir()
			src := touch(t, filepath.Join(dir, "clip.mov"))
			overlay := touch(t, filepath.Join(dir, "bar.png"))
			out := filepath.Join(dir, "video_1.mp4")
			if tt.noAudio {
				tools.NoAudio["video_1_pass1.mp4"] = true
			}

			seg, err := r.UserVideo(context.Background(), "video_1", src, overlay, out)
			if err != nil {
				t.Fatal(err)
			}
			if seg.Kind != KindUserVideo || seg.Path != out {
				t.Errorf("unexpected segment %+v", seg)
			}
			if _, err := os.Stat(out); err != nil {
				t.Errorf("final output missing: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, "video_1_pass1.mp4")); !os.IsNotExist(err) {
				t.Error("first pass file left behind")
			}

			labels := tools.Labels()
			if strings.Join(labels, ",") != strings.Join(tt.wantLabels, ",") {
				t.Errorf("expected passes %v, got %v", tt.wantLabels, labels)
			}

			first := tools.Calls()[0]
			if !first.Has("0:a:0?") {
				t.Error("first pass must keep optional source audio")
			}
			if tt.noAudio {
				second := tools.Calls()[1]
				if second.After("-c:v") != "copy" || !second.Has("-shortest") {
					t.Errorf("remediation pass must copy video: %v", second.Args)
				}
			}
		})
	}
}

func TestTranscodeFailurePropagates(t *testing.T) {
	r, tools := newTestRenderer()
	dir := t.TempDir()
	tools.Fail["bumper_close"] = errors.New(errors.CodeToolFailed, "boom")

	_, err := r.Bumper(context.Background(), "bumper_close", touch(t, filepath.Join(dir, "b.mp4")), filepath.Join(dir, "out.mp4"))
	if !errors.IsCode(err, errors.CodeToolFailed) {
		t.Errorf("expected tool failure, got %v", err)
	}
}
