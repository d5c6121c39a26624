package media

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

const DefaultProbeTimeout = 30 * time.Second

// Dimensions is the frame size of the first video stream.
type Dimensions struct {
	Width  int
	Height int
}

// Toolchain is the transcode/probe surface the renderers depend on.
type Toolchain interface {
	Transcode(ctx context.Context, label string, args ...string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeDimensions(ctx context.Context, path string) (Dimensions, error)
	HasAudio(ctx context.Context, path string) (bool, error)
}

// FFmpegConfig locates the binaries and bounds each call.
type FFmpegConfig struct {
	FFmpegBin        string
	FFprobeBin       string
	TranscodeTimeout time.Duration
	ProbeTimeout     time.Duration
}

// FFmpeg implements Toolchain with ffmpeg and ffprobe.
type FFmpeg struct {
	runner Runner
	cfg    FFmpegConfig
}

func NewFFmpeg(runner Runner, cfg FFmpegConfig) *FFmpeg {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &FFmpeg{runner: runner, cfg: cfg}
}

// Transcode runs ffmpeg non-interactively, overwriting outputs.
func (f *FFmpeg) Transcode(ctx context.Context, label string, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}, args...)
	_, err := f.runner.Run(ctx, Command{
		Label:   label,
		Name:    f.cfg.FFmpegBin,
		Args:    full,
		Timeout: f.cfg.TranscodeTimeout,
	})
	return err
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func (f *FFmpeg) probe(ctx context.Context, path string) (*probeResult, error) {
	out, err := f.runner.Run(ctx, Command{
		Label: "probe " + filepath.Base(path),
		Name:  f.cfg.FFprobeBin,
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
		Timeout: f.cfg.ProbeTimeout,
	})
	if err != nil {
		return nil, err
	}

	var res probeResult
	if err := json.Unmarshal(out.Stdout, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &res, nil
}

// ProbeDuration returns the container duration in seconds. A missing,
// unparsable or non-positive value is an error, never 0.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	const op = "media.ProbeDuration"
	msg := fmt.Sprintf("could not determine duration of %s", filepath.Base(path))

	res, err := f.probe(ctx, path)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.CodeProbeFailed, op, msg)
	}

	d, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil || d <= 0 {
		// Some muxers only report per-stream durations.
		d = 0
		for _, s := range res.Streams {
			if v, perr := strconv.ParseFloat(s.Duration, 64); perr == nil && v > d {
				d = v
			}
		}
	}
	if d <= 0 {
		return 0, errors.New(errors.CodeProbeFailed, msg).WithField("path", path)
	}
	return d, nil
}

func (f *FFmpeg) ProbeDimensions(ctx context.Context, path string) (Dimensions, error) {
	const op = "media.ProbeDimensions"
	msg := fmt.Sprintf("could not determine dimensions of %s", filepath.Base(path))

	res, err := f.probe(ctx, path)
	if err != nil {
		return Dimensions{}, errors.WrapWithCode(err, errors.CodeProbeFailed, op, msg)
	}
	for _, s := range res.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return Dimensions{Width: s.Width, Height: s.Height}, nil
		}
	}
	return Dimensions{}, errors.New(errors.CodeProbeFailed, msg).WithField("path", path)
}

// HasAudio reports whether the file carries at least one audio stream.
func (f *FFmpeg) HasAudio(ctx context.Context, path string) (bool, error) {
	res, err := f.probe(ctx, path)
	if err != nil {
		return false, errors.WrapWithCode(err, errors.CodeProbeFailed, "media.HasAudio",
			fmt.Sprintf("could not inspect streams of %s", filepath.Base(path)))
	}
	for _, s := range res.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}
