// Package mediatest provides an in-memory Toolchain for tests of code that
// drives ffmpeg.
package mediatest

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

// Call is one recorded Transcode invocation.
type Call struct {
	Label string
	Args  []string
}

// Output is the file the invocation wrote, by ffmpeg convention the last
// argument.
func (c Call) Output() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// Has reports whether arg appears in the invocation.
func (c Call) Has(arg string) bool {
	for _, a := range c.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// After returns the argument following flag, or "".
func (c Call) After(flag string) string {
	for i, a := range c.Args {
		if a == flag && i+1 < len(c.Args) {
			return c.Args[i+1]
		}
	}
	return ""
}

// Toolchain records transcodes, writes a placeholder output file for each and
// answers probes from its maps, keyed by file base name.
type Toolchain struct {
	mu    sync.Mutex
	calls []Call

	// DefaultDuration is returned for existing files without an entry in
	// Durations.
	DefaultDuration float64
	Durations       map[string]float64
	NoAudio         map[string]bool
	// Fail makes the transcode with the given label return the error.
	Fail map[string]error
}

func New() *Toolchain {
	return &Toolchain{
		DefaultDuration: 4,
		Durations:       map[string]float64{},
		NoAudio:         map[string]bool{},
		Fail:            map[string]error{},
	}
}

var _ media.Toolchain = (*Toolchain)(nil)

func (t *Toolchain) Transcode(ctx context.Context, label string, args ...string) error {
	t.mu.Lock()
	c := Call{Label: label, Args: append([]string(nil), args...)}
	t.calls = append(t.calls, c)
	err := t.Fail[label]
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err != nil {
		return err
	}
	if out := c.Output(); out != "" {
		return os.WriteFile(out, []byte("fake "+label), 0o644)
	}
	return nil
}

func (t *Toolchain) ProbeDuration(ctx context.Context, path string) (float64, error) {
	t.mu.Lock()
	d, ok := t.Durations[filepath.Base(path)]
	t.mu.Unlock()
	if ok {
		return d, nil
	}
	if _, err := os.Stat(path); err != nil {
		return 0, errors.New(errors.CodeProbeFailed, "could not determine duration of "+filepath.Base(path))
	}
	return t.DefaultDuration, nil
}

func (t *Toolchain) ProbeDimensions(ctx context.Context, path string) (media.Dimensions, error) {
	return media.Dimensions{Width: 1080, Height: 1920}, nil
}

func (t *Toolchain) HasAudio(ctx context.Context, path string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.NoAudio[filepath.Base(path)], nil
}

// Calls returns a copy of the recorded invocations in order.
func (t *Toolchain) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Labels returns the recorded invocation labels in order.
func (t *Toolchain) Labels() []string {
	var out []string
	for _, c := range t.Calls() {
		out = append(out, c.Label)
	}
	return out
}
