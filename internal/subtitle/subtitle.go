// Package subtitle writes ASS subtitle tracks for studio segments. Cue timing
// comes from a text-only estimate, so every track is rescaled to the probed
// length of the narration it accompanies.
package subtitle

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

// Style is the single style every dialogue line uses.
type Style struct {
	FontName      string
	FontSize      int
	PrimaryColour string
	OutlineColour string
	BackColour    string
	Bold          bool
	Outline       float64
	Alignment     int
	MarginH       int
	MarginV       int
	PlayResX      int
	PlayResY      int
}

// DefaultStyle is bottom-centred white text sitting above the info bar of a
// 1080x1920 canvas.
func DefaultStyle() Style {
	return Style{
		FontName:      "DejaVu Sans",
		FontSize:      64,
		PrimaryColour: "&H00FFFFFF",
		OutlineColour: "&H00000000",
		BackColour:    "&H80000000",
		Bold:          true,
		Outline:       4,
		Alignment:     2,
		MarginH:       60,
		MarginV:       420,
		PlayResX:      1080,
		PlayResY:      1920,
	}
}

// Generator renders cue lists to subtitle files.
type Generator struct {
	style Style
}

func NewGenerator(style Style) *Generator {
	return &Generator{style: style}
}

// Rescale maps cues timed against their own largest end value onto actual
// seconds. The input is not modified.
func Rescale(cues []models.Cue, actual float64) []models.Cue {
	if len(cues) == 0 {
		return nil
	}
	estimated := 0.0
	for _, c := range cues {
		estimated = math.Max(estimated, c.End)
	}
	if estimated <= 0 {
		estimated = 1.0
	}
	scale := actual / estimated

	out := make([]models.Cue, len(cues))
	for i, c := range cues {
		out[i] = models.Cue{Start: c.Start * scale, End: c.End * scale, Text: c.Text}
	}
	return out
}

// Generate writes the rescaled track to path. It returns "" and writes
// nothing when cues is empty.
func (g *Generator) Generate(cues []models.Cue, actual float64, path string) (string, error) {
	if len(cues) == 0 {
		return "", nil
	}

	var b strings.Builder
	g.writeHeader(&b)
	for _, c := range Rescale(cues, actual) {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			Timestamp(c.Start), Timestamp(c.End), escapeText(c.Text))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", errors.Wrap(err, "subtitle.Generate", "write subtitle track")
	}
	return path, nil
}

func (g *Generator) writeHeader(b *strings.Builder) {
	s := g.style
	bold := 0
	if s.Bold {
		bold = -1
	}

	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(b, "PlayResX: %d\nPlayResY: %d\n", s.PlayResX, s.PlayResY)
	b.WriteString("WrapStyle: 0\nScaledBorderAndShadow: yes\n\n")

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(b, "Style: Default,%s,%d,%s,&H000000FF,%s,%s,%d,0,0,0,100,100,0,0,1,%g,0,%d,%d,%d,%d,1\n\n",
		s.FontName, s.FontSize, s.PrimaryColour, s.OutlineColour, s.BackColour,
		bold, s.Outline, s.Alignment, s.MarginH, s.MarginH, s.MarginV)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
}

// Timestamp formats seconds as H:MM:SS.CS.
func Timestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	cs := int64(math.Round(sec * 100))
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, (cs/6000)%60, (cs/100)%60, cs%100)
}

var textReplacer = strings.NewReplacer(
	"\r\n", `\N`,
	"\n", `\N`,
	"{", "(",
	"}", ")",
)

func escapeText(s string) string {
	return textReplacer.Replace(strings.TrimSpace(s))
}

// FilterPath escapes path for use as the filename of ffmpeg's ass/subtitles
// filter.
func FilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.ReplaceAll(path, ":", `\:`)
	path = strings.ReplaceAll(path, "'", `\'`)
	return path
}
