package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

// fakeProbe installs a shell script that prints body and exits with code.
func fakeProbe(t *testing.T, body string, code int) *FFmpeg {
	t.Helper()
	requireShell(t)

	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	content := "#!/bin/sh\ncat <<'JSON'\n" + body + "\nJSON\nexit " + strconv.Itoa(code) + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return NewFFmpeg(NewProcessRunner(logger.Discard(), 0, 0), FFmpegConfig{
		FFprobeBin:   script,
		ProbeTimeout: 5 * time.Second,
	})
}

func TestProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		want    float64
		wantErr bool
	}{
		{"format duration", `{"format":{"duration":"12.480000"},"streams":[]}`, 0, 12.48, false},
		{"stream duration fallback", `{"format":{},"streams":[{"codec_type":"audio","duration":"3.5"}]}`, 0, 3.5, false},
		{"zero duration", `{"format":{"duration":"0.000000"},"streams":[]}`, 0, 0, true},
		{"no data", `{}`, 0, 0, true},
		{"probe exits non-zero", `garbage`, 1, 0, true},
		{"unparsable output", `not json`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fakeProbe(t, tt.body, tt.code)
			got, err := f.ProbeDuration(context.Background(), "/tmp/narration.mp3")

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				if !strings.Contains(err.Error(), "could not determine duration") {
					t.Errorf("unexpected message: %v", err)
				}
				if errors.GetCode(err) != errors.CodeProbeFailed {
					t.Errorf("expected %s, got %s", errors.CodeProbeFailed, errors.GetCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProbeDurationZeroByteFile(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	path := filepath.Join(t.TempDir(), "empty.mp4")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFFmpeg(NewProcessRunner(logger.Discard(), 0, 0), FFmpegConfig{})
	_, err := f.ProbeDuration(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "could not determine duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestProbeDimensionsAndAudio(t *testing.T) {
	body := `{"format":{"duration":"4.0"},"streams":[` +
		`{"codec_type":"video","width":1080,"height":1920},` +
		`{"codec_type":"audio"}]}`
	f := fakeProbe(t, body, 0)

	dims, err := f.ProbeDimensions(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if dims != (Dimensions{Width: 1080, Height: 1920}) {
		t.Errorf("unexpected dimensions %+v", dims)
	}

	has, err := f.HasAudio(context.Background(), "clip.mp4")
	if err != nil || !has {
		t.Errorf("expected audio stream, got %v, %v", has, err)
	}
}

func TestHasAudioFalseForSilentClip(t *testing.T) {
	f := fakeProbe(t, `{"streams":[{"codec_type":"video","width":640,"height":360}]}`, 0)

	has, err := f.HasAudio(context.Background(), "silent.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("expected no audio stream")
	}
}

func TestTranscodePrependsFlags(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "ffmpeg")
	content := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}

	f := NewFFmpeg(NewProcessRunner(logger.Discard(), 0, 0), FFmpegConfig{FFmpegBin: script})
	if err := f.Transcode(context.Background(), "bumper_open", "-i", "in.mp4", "out.mp4"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(got), "-hide_banner -nostdin -loglevel error -y -i in.mp4 out.mp4") {
		t.Errorf("unexpected args: %s", got)
	}
}
