// Package assemble joins rendered segments into one file and mixes an
// automated music bed under the result.
package assemble

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/segment"
)

// maxDrift is how far the joined duration may stray from the sum of its
// parts before it is logged.
const maxDrift = 0.5

// Gains are the music bed levels per segment kind, as absolute volume.
type Gains struct {
	Base      float64 `yaml:"base"`
	Bumper    float64 `yaml:"bumper"`
	UserVideo float64 `yaml:"user_video"`
}

func DefaultGains() Gains {
	return Gains{Base: 0.18, Bumper: 1.0, UserVideo: 0}
}

// Range is one window of the timeline whose gain differs from the base.
type Range struct {
	Kind  segment.Kind
	Start float64
	End   float64
	// Multiplier is applied on top of the base gain.
	Multiplier float64
}

// Automation is a base gain plus the windows that override it.
type Automation struct {
	Base   float64
	Ranges []Range
}

// BuildAutomation lays the segments end to end and emits one range per
// bumper and user video segment. Studio segments keep the base gain.
func BuildAutomation(segs []segment.Segment, g Gains) Automation {
	a := Automation{Base: g.Base}
	offset := 0.0
	for _, s := range segs {
		start, end := offset, offset+s.Duration
		offset = end

		var gain float64
		switch s.Kind {
		case segment.KindBumper:
			gain = g.Bumper
		case segment.KindUserVideo:
			gain = g.UserVideo
		default:
			continue
		}
		if gain == g.Base {
			continue
		}
		a.Ranges = append(a.Ranges, Range{Kind: s.Kind, Start: start, End: end, Multiplier: multiplier(gain, g.Base)})
	}
	return a
}

func multiplier(gain, base float64) float64 {
	if base == 0 {
		if gain == 0 {
			return 0
		}
		return 1
	}
	return gain / base
}

// GainAt is the effective music gain at t seconds.
func (a Automation) GainAt(t float64) float64 {
	for _, r := range a.Ranges {
		if t >= r.Start && t < r.End {
			return a.Base * r.Multiplier
		}
	}
	return a.Base
}

// Filter renders the automation as an ffmpeg audio filter chain.
func (a Automation) Filter() string {
	parts := []string{fmt.Sprintf("volume=%.3f", a.Base)}
	for _, r := range a.Ranges {
		parts = append(parts, fmt.Sprintf("volume=enable='between(t,%.3f,%.3f)':volume=%.4f", r.Start, r.End, r.Multiplier))
	}
	return strings.Join(parts, ",")
}

// Assembler concatenates and mixes.
type Assembler struct {
	tools   media.Toolchain
	profile segment.Profile
	gains   Gains
	log     *logger.Logger
}

func New(tools media.Toolchain, profile segment.Profile, gains Gains, log *logger.Logger) *Assembler {
	if log == nil {
		log = logger.Discard()
	}
	return &Assembler{tools: tools, profile: profile, gains: gains, log: log.WithComponent("assembler")}
}

// WriteManifest writes a concat demuxer list of absolute segment paths in
// timeline order.
func WriteManifest(segs []segment.Segment, path string) error {
	var b strings.Builder
	for _, s := range segs {
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Concat joins segs by stream copy into out and returns its probed duration.
func (a *Assembler) Concat(ctx context.Context, segs []segment.Segment, out string) (float64, error) {
	const op = "assemble.Concat"
	if len(segs) == 0 {
		return 0, errors.Validation("nothing to concatenate")
	}

	manifest := strings.TrimSuffix(out, filepath.Ext(out)) + "_concat.txt"
	if err := WriteManifest(segs, manifest); err != nil {
		return 0, errors.Wrap(err, op, "write concat manifest")
	}

	if err := a.tools.Transcode(ctx, "concat",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return 0, errors.Wrap(err, op, "concatenate segments")
	}

	total, err := a.tools.ProbeDuration(ctx, out)
	if err != nil {
		return 0, errors.Wrap(err, op, "probe joined file")
	}

	want := 0.0
	for _, s := range segs {
		want += s.Duration
	}
	if drift := math.Abs(total - want); drift > maxDrift {
		a.log.Warn("joined duration drifts from segment sum",
			"expected_s", want, "actual_s", total, "drift_s", drift)
	}
	return total, nil
}

// Automation re-probes every segment in order and builds the music
// automation from the measured durations.
func (a *Assembler) Automation(ctx context.Context, segs []segment.Segment) (Automation, error) {
	measured := make([]segment.Segment, len(segs))
	for i, s := range segs {
		d, err := a.tools.ProbeDuration(ctx, s.Path)
		if err != nil {
			return Automation{}, errors.Wrap(err, "assemble.Automation", "probe "+s.Label)
		}
		s.Duration = d
		measured[i] = s
	}
	return BuildAutomation(measured, a.gains), nil
}

// Mix loops music under video with the given automation. The video stream is
// copied and the two audio streams are summed without normalization.
func (a *Assembler) Mix(ctx context.Context, video, music string, auto Automation, out string) error {
	graph := "[1:a]" + auto.Filter() + "[bed];[0:a][bed]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[a]"

	args := []string{
		"-i", video,
		"-stream_loop", "-1", "-i", music,
		"-filter_complex", graph,
		"-map", "0:v", "-map", "[a]",
		"-c:v", "copy",
	}
	args = append(args, a.profile.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", out)

	if err := a.tools.Transcode(ctx, "mix", args...); err != nil {
		return errors.Wrap(err, "assemble.Mix", "mix music bed")
	}
	return nil
}
