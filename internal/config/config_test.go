package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

func TestDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", 7 * time.Second},
		{"45", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", 7 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.val)
		if got := DurationEnv("TEST_DURATION", 7*time.Second); got != tt.want {
			t.Errorf("DurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "4")
	if got := IntEnv("TEST_INT", 1); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	t.Setenv("TEST_INT", "four")
	if got := IntEnv("TEST_INT", 1); got != 1 {
		t.Errorf("expected default, got %d", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/tmp/menews.db")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("VIDEO_HOST", "")
	t.Setenv("RENDER_PROFILE_PATH", "")
	t.Setenv("WORKER_DRAIN_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DrainTimeout != 15*time.Minute {
		t.Errorf("drain timeout = %v", cfg.DrainTimeout)
	}
	if cfg.LockBackend != "memory" {
		t.Errorf("sqlite deployments default to the memory lock, got %s", cfg.LockBackend)
	}
	if cfg.MaxAttempts != 2 || cfg.RetryBackoff != 30*time.Second {
		t.Errorf("unexpected retry policy %d/%v", cfg.MaxAttempts, cfg.RetryBackoff)
	}
	if cfg.Profile.Segment.Width != 1080 || cfg.Profile.Gains.Base != 0.18 {
		t.Errorf("unexpected default profile %+v", cfg.Profile)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no store", map[string]string{"DATABASE_URL": "", "SQLITE_PATH": ""}},
		{"postgres lock without postgres", map[string]string{"SQLITE_PATH": "x.db", "DATABASE_URL": "", "LOCK_BACKEND": "postgres"}},
		{"unknown host", map[string]string{"SQLITE_PATH": "x.db", "DATABASE_URL": "", "VIDEO_HOST": "vimeo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOCK_BACKEND", "")
			t.Setenv("VIDEO_HOST", "")
			t.Setenv("RENDER_PROFILE_PATH", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !errors.IsCode(err, errors.CodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	os.WriteFile(path, []byte(`
segment:
  width: 720
  height: 1280
  silent_card_seconds: 3
music:
  base: 0.25
timeouts:
  transcode: 10m
`), 0o644)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Segment.Width != 720 || p.Segment.Height != 1280 || p.Segment.SilentCard != 3 {
		t.Errorf("segment overrides not applied: %+v", p.Segment)
	}
	if p.Segment.FPS != 30 || p.Segment.VideoCodec != "libx264" {
		t.Errorf("unset keys must keep defaults: %+v", p.Segment)
	}
	if p.Gains.Base != 0.25 || p.Gains.Bumper != 1.0 {
		t.Errorf("unexpected gains %+v", p.Gains)
	}
	if p.TranscodeTimeout != 10*time.Minute || p.ProbeTimeout != 30*time.Second {
		t.Errorf("unexpected timeouts %v/%v", p.TranscodeTimeout, p.ProbeTimeout)
	}
}

func TestLoadProfileRejectsOddCanvas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	os.WriteFile(path, []byte("segment:\n  width: 1081\n"), 0o644)

	if _, err := LoadProfile(path); !errors.IsCode(err, errors.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
