// Package segment renders the units of a bulletin timeline into files that
// share one container and codec profile, so they can be joined by stream copy.
package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/subtitle"
)

type Kind string

const (
	KindBumper    Kind = "bumper"
	KindStudio    Kind = "studio"
	KindUserVideo Kind = "user_video"
)

// Segment is one rendered unit of the timeline.
type Segment struct {
	Kind     Kind
	Label    string
	Path     string
	Duration float64
}

// Profile is the single output profile every segment is encoded to.
type Profile struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	FPS          int     `yaml:"fps"`
	VideoCodec   string  `yaml:"video_codec"`
	Preset       string  `yaml:"preset"`
	CRF          int     `yaml:"crf"`
	PixFmt       string  `yaml:"pix_fmt"`
	AudioCodec   string  `yaml:"audio_codec"`
	AudioBitrate string  `yaml:"audio_bitrate"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
	MaxBumper    float64 `yaml:"max_bumper_seconds"`
	SilentCard   float64 `yaml:"silent_card_seconds"`
}

func DefaultProfile() Profile {
	return Profile{
		Width:        1080,
		Height:       1920,
		FPS:          30,
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		CRF:          20,
		PixFmt:       "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		SampleRate:   44100,
		Channels:     2,
		MaxBumper:    10,
		SilentCard:   5,
	}
}

func (p Profile) videoArgs() []string {
	return []string{
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", p.PixFmt,
		"-r", strconv.Itoa(p.FPS),
	}
}

// AudioArgs are the encoder flags of the shared audio profile.
func (p Profile) AudioArgs() []string {
	return []string{
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
	}
}

// SilenceSource is the lavfi input producing silent audio in the profile's
// layout.
func (p Profile) SilenceSource() string {
	layout := "stereo"
	if p.Channels == 1 {
		layout = "mono"
	}
	return fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", layout, p.SampleRate)
}

// fit scales into the canvas and letterboxes the remainder.
func (p Profile) fit() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1",
		p.Width, p.Height, p.Width, p.Height)
}

// fill scales to cover the canvas and crops the overflow.
func (p Profile) fill() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1",
		p.Width, p.Height, p.Width, p.Height)
}

func (p Profile) finish() string {
	return fmt.Sprintf("fps=%d,format=%s", p.FPS, p.PixFmt)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Renderer turns bumpers, studio narrations and user clips into segments.
type Renderer struct {
	tools   media.Toolchain
	subs    *subtitle.Generator
	profile Profile
}

// NewRenderer builds a Renderer. subs may be nil to disable burned-in
// subtitles.
func NewRenderer(tools media.Toolchain, subs *subtitle.Generator, profile Profile) *Renderer {
	return &Renderer{tools: tools, subs: subs, profile: profile}
}

func (r *Renderer) Profile() Profile { return r.profile }

// Bumper re-encodes src without its audio, attaches silence and caps the
// result at Profile.MaxBumper seconds.
func (r *Renderer) Bumper(ctx context.Context, label, src, out string) (Segment, error) {
	const op = "segment.Bumper"
	p := r.profile

	args := []string{
		"-i", src,
		"-f", "lavfi", "-i", p.SilenceSource(),
		"-map", "0:v:0", "-map", "1:a:0",
		"-vf", p.fit() + "," + p.finish(),
		"-t", seconds(p.MaxBumper),
	}
	args = append(args, p.videoArgs()...)
	args = append(args, p.AudioArgs()...)
	args = append(args, "-shortest", "-movflags", "+faststart", out)

	if err := r.tools.Transcode(ctx, label, args...); err != nil {
		return Segment{}, errors.Wrap(err, op, "render "+label)
	}
	return r.probed(ctx, KindBumper, label, out)
}

// StudioInput describes one narrated studio segment.
type StudioInput struct {
	Label string
	// Loop is a background video looped for the whole segment. When set,
	// Overlay is composited on top; otherwise Frame is used as a still.
	Loop    string
	Overlay string
	Frame   string
	// Audio is the narration track. Without it the segment is a silent card
	// of Profile.SilentCard seconds.
	Audio string
	Cues  []models.Cue
	Out   string
}

// Studio renders a narration over either a looping background with a
// transparent overlay or a static frame.
func (r *Renderer) Studio(ctx context.Context, in StudioInput) (Segment, error) {
	const op = "segment.Studio"
	p := r.profile

	if in.Loop != "" && in.Overlay == "" {
		return Segment{}, errors.Validation(in.Label + ": studio loop requires an overlay")
	}
	if in.Loop == "" && in.Frame == "" {
		return Segment{}, errors.Validation(in.Label + ": studio segment needs a loop or a frame")
	}

	duration := p.SilentCard
	if in.Audio != "" {
		d, err := r.tools.ProbeDuration(ctx, in.Audio)
		if err != nil {
			return Segment{}, errors.Wrap(err, op, in.Label+": probe narration")
		}
		duration = d
	}

	var subs string
	if r.subs != nil && len(in.Cues) > 0 {
		path := strings.TrimSuffix(in.Out, filepath.Ext(in.Out)) + ".ass"
		s, err := r.subs.Generate(in.Cues, duration, path)
		if err != nil {
			return Segment{}, errors.Wrap(err, op, in.Label+": subtitles")
		}
		subs = s
	}

	var args []string
	var graph string
	audioIndex := 1
	if in.Loop != "" {
		args = append(args, "-stream_loop", "-1", "-i", in.Loop, "-loop", "1", "-i", in.Overlay)
		graph = "[0:v]" + p.fill() + "[bg];[1:v]scale=" + strconv.Itoa(p.Width) + ":" + strconv.Itoa(p.Height) +
			"[fg];[bg][fg]overlay=0:0"
		audioIndex = 2
	} else {
		args = append(args, "-loop", "1", "-i", in.Frame)
		graph = "[0:v]" + p.fit()
	}
	if subs != "" {
		graph += ",ass='" + subtitle.FilterPath(subs) + "'"
	}
	graph += "," + p.finish() + "[v]"

	if in.Audio != "" {
		args = append(args, "-i", in.Audio)
	} else {
		args = append(args, "-f", "lavfi", "-i", p.SilenceSource())
	}

	args = append(args,
		"-filter_complex", graph,
		"-map", "[v]", "-map", strconv.Itoa(audioIndex)+":a:0",
		"-t", seconds(duration),
	)
	args = append(args, p.videoArgs()...)
	args = append(args, p.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", in.Out)

	if err := r.tools.Transcode(ctx, in.Label, args...); err != nil {
		return Segment{}, errors.Wrap(err, op, "render "+in.Label)
	}
	return r.probed(ctx, KindStudio, in.Label, in.Out)
}

// UserVideo fits src to the canvas under the info-bar overlay, keeping the
// clip's own audio. The output is probed afterwards and a silent track is
// added when it has none.
func (r *Renderer) UserVideo(ctx context.Context, label, src, overlay, out string) (Segment, error) {
	const op = "segment.UserVideo"
	p := r.profile

	if overlay == "" {
		return Segment{}, errors.Validation(label + ": user video requires an overlay")
	}

	pass1 := strings.TrimSuffix(out, filepath.Ext(out)) + "_pass1" + filepath.Ext(out)
	graph := "[0:v]" + p.fit() + "[base];[base][1:v]overlay=0:0:shortest=1," + p.finish() + "[v]"

	args := []string{
		"-i", src,
		"-loop", "1", "-i", overlay,
		"-filter_complex", graph,
		"-map", "[v]", "-map", "0:a:0?",
	}
	args = append(args, p.videoArgs()...)
	args = append(args, p.AudioArgs()...)
	args = append(args, "-movflags", "+faststart", pass1)

	if err := r.tools.Transcode(ctx, label, args...); err != nil {
		return Segment{}, errors.Wrap(err, op, "render "+label)
	}

	hasAudio, err := r.tools.HasAudio(ctx, pass1)
	if err != nil {
		return Segment{}, errors.Wrap(err, op, label+": inspect audio")
	}

	if hasAudio {
		if err := os.Rename(pass1, out); err != nil {
			return Segment{}, errors.Wrap(err, op, label+": finalize")
		}
	} else {
		args := []string{
			"-i", pass1,
			"-f", "lavfi", "-i", p.SilenceSource(),
			"-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy",
		}
		args = append(args, p.AudioArgs()...)
		args = append(args, "-shortest", "-movflags", "+faststart", out)

		if err := r.tools.Transcode(ctx, label+"_silence", args...); err != nil {
			return Segment{}, errors.Wrap(err, op, label+": add silent track")
		}
		_ = os.Remove(pass1)
	}

	return r.probed(ctx, KindUserVideo, label, out)
}

func (r *Renderer) probed(ctx context.Context, kind Kind, label, path string) (Segment, error) {
	d, err := r.tools.ProbeDuration(ctx, path)
	if err != nil {
		return Segment{}, errors.Wrap(err, "segment.probe", label)
	}
	return Segment{Kind: kind, Label: label, Path: path, Duration: d}, nil
}
