package subtitle

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
)

func TestRescale(t *testing.T) {
	tests := []struct {
		name    string
		cues    []models.Cue
		actual  float64
		wantEnd float64
	}{
		{
			name:    "narration longer than estimate",
			cues:    []models.Cue{{Start: 0, End: 2, Text: "a"}, {Start: 2, End: 5, Text: "b"}, {Start: 5, End: 8, Text: "c"}},
			actual:  12,
			wantEnd: 12,
		},
		{
			name:    "narration shorter than estimate",
			cues:    []models.Cue{{Start: 0, End: 4, Text: "a"}, {Start: 4, End: 10, Text: "b"}},
			actual:  7.3,
			wantEnd: 7.3,
		},
		{
			name:    "max end not last",
			cues:    []models.Cue{{Start: 0, End: 9, Text: "a"}, {Start: 3, End: 6, Text: "b"}},
			actual:  4.5,
			wantEnd: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rescale(tt.cues, tt.actual)
			if len(got) != len(tt.cues) {
				t.Fatalf("expected %d cues, got %d", len(tt.cues), len(got))
			}
			for i, c := range got {
				if c.Start >= c.End {
					t.Errorf("cue %d: start %v >= end %v", i, c.Start, c.End)
				}
				if i > 0 && c.Start < got[i-1].Start {
					t.Errorf("cue %d: start sequence decreased", i)
				}
			}
			if last := got[len(got)-1].End; math.Abs(last-tt.wantEnd) > 1e-9 {
				t.Errorf("expected last end %v, got %v", tt.wantEnd, last)
			}
		})
	}
}

func TestRescaleClampsZeroEstimate(t *testing.T) {
	cues := []models.Cue{{Start: 0, End: 0, Text: "x"}}
	got := Rescale(cues, 5)
	if got[0].End != 0 || math.IsNaN(got[0].Start) {
		t.Errorf("expected finite zero timing, got %+v", got[0])
	}
}

func TestRescaleDoesNotMutateInput(t *testing.T) {
	cues := []models.Cue{{Start: 1, End: 2, Text: "x"}}
	Rescale(cues, 10)
	if cues[0].End != 2 {
		t.Error("input cues modified")
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00:00.00"},
		{1.5, "0:00:01.50"},
		{61.234, "0:01:01.23"},
		{3725.999, "1:02:06.00"},
		{-3, "0:00:00.00"},
	}
	for _, tt := range tests {
		if got := Timestamp(tt.in); got != tt.want {
			t.Errorf("Timestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerate(t *testing.T) {
	g := NewGenerator(DefaultStyle())
	path := filepath.Join(t.TempDir(), "story_1.ass")

	out, err := g.Generate([]models.Cue{
		{Start: 0, End: 1, Text: "Good morning\nVillage"},
		{Start: 1, End: 2, Text: "Weather {ahead}"},
	}, 4, path)
	if err != nil {
		t.Fatal(err)
	}
	if out != path {
		t.Errorf("expected %s, got %s", path, out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)

	for _, want := range []string{
		"[Script Info]",
		"PlayResY: 1920",
		"Style: Default,DejaVu Sans,64",
		`Dialogue: 0,0:00:00.00,0:00:02.00,Default,,0,0,0,,Good morning\NVillage`,
		"Dialogue: 0,0:00:02.00,0:00:04.00,Default,,0,0,0,,Weather (ahead)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Count(body, "Style: ") != 1 {
		t.Error("expected exactly one style definition")
	}
}

func TestGenerateEmptyIsNoop(t *testing.T) {
	g := NewGenerator(DefaultStyle())
	path := filepath.Join(t.TempDir(), "none.ass")

	out, err := g.Generate(nil, 10, path)
	if err != nil || out != "" {
		t.Fatalf("expected no-op, got %q, %v", out, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be written for empty cues")
	}
}

func TestFilterPath(t *testing.T) {
	if got := FilterPath(`/work/it's:here.ass`); got != `/work/it\'s\:here.ass` {
		t.Errorf("unexpected escape: %s", got)
	}
}
