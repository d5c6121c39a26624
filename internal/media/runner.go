// Package media runs the external transcoding and probing tools. Every
// invocation is bounded by a timeout, drains stdout and stderr concurrently and
// reports failures as *ToolError.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

const (
	DefaultTimeout = 300 * time.Second
	DefaultGrace   = 2 * time.Second

	stderrTailLines = 20
	stderrRingBytes = 64 * 1024
	maxStdoutBytes  = 8 * 1024 * 1024
)

// Exit reasons used in ToolError.ExitStatus besides "exit status N".
const (
	ExitTimeout     = "timeout"
	ExitCanceled    = "canceled"
	ExitStartFailed = "start failed"
)

// Command is one external tool invocation.
type Command struct {
	// Label names the invocation in logs and errors, e.g. "studio_2".
	Label   string
	Name    string
	Args    []string
	Timeout time.Duration
}

// Output is what a successful invocation produced.
type Output struct {
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// Runner executes a Command.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ToolError is returned when an external tool exits non-zero, times out, is
// canceled or cannot be started.
type ToolError struct {
	Label      string
	ExitStatus string
	TimedOut   bool
	StderrTail string
	Err        error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Label, e.ExitStatus)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrorCode classifies the failure for errors.GetCode.
func (e *ToolError) ErrorCode() errors.Code {
	if e.TimedOut {
		return errors.CodeToolTimeout
	}
	return errors.CodeToolFailed
}

// ProcessRunner is the os/exec implementation of Runner. The child runs in its
// own process group so a timeout also reaches anything it spawned.
type ProcessRunner struct {
	log            *logger.Logger
	defaultTimeout time.Duration
	grace          time.Duration
}

// NewProcessRunner returns a runner. Zero durations select the defaults.
func NewProcessRunner(log *logger.Logger, defaultTimeout, grace time.Duration) *ProcessRunner {
	if log == nil {
		log = logger.Discard()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &ProcessRunner{
		log:            log.WithComponent("process_runner"),
		defaultTimeout: defaultTimeout,
		grace:          grace,
	}
}

func (r *ProcessRunner) Run(ctx context.Context, c Command) (Output, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	start := time.Now()

	cmd := exec.Command(c.Name, c.Args...)
	// nil Stdin reads from the null device.
	cmd.Stdin = nil
	setProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, r.startFailed(c, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, r.startFailed(c, err)
	}
	if err := cmd.Start(); err != nil {
		return Output{}, r.startFailed(c, err)
	}

	var stdout bytes.Buffer
	stderr := newRingBuffer(stderrRingBytes)

	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		_, _ = io.Copy(&limitedBuffer{buf: &stdout, limit: maxStdoutBytes}, stdoutPipe)
	}()
	go func() {
		defer drained.Done()
		_, _ = io.Copy(stderr, stderrPipe)
	}()

	var reason atomic.Value
	exited := make(chan struct{})
	watcherDone := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		defer close(watcherDone)
		select {
		case <-exited:
			return
		case <-timer.C:
			reason.Store(ExitTimeout)
		case <-ctx.Done():
			reason.Store(ExitCanceled)
		}
		r.stop(cmd, exited, c.Label)
	}()

	drained.Wait()
	waitErr := cmd.Wait()
	close(exited)
	<-watcherDone

	elapsed := time.Since(start)
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Tail(stderrTailLines), Duration: elapsed}

	stopped, _ := reason.Load().(string)
	switch {
	case stopped == ExitTimeout:
		err = &ToolError{
			Label:      c.Label,
			ExitStatus: ExitTimeout,
			TimedOut:   true,
			StderrTail: out.Stderr,
			Err:        context.DeadlineExceeded,
		}
	case stopped == ExitCanceled:
		err = &ToolError{Label: c.Label, ExitStatus: ExitCanceled, StderrTail: out.Stderr, Err: ctx.Err()}
	case waitErr != nil:
		status := waitErr.Error()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			status = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		err = &ToolError{Label: c.Label, ExitStatus: status, StderrTail: out.Stderr, Err: waitErr}
	default:
		r.log.Debug("tool finished",
			"label", c.Label,
			"tool", c.Name,
			"duration_ms", elapsed.Milliseconds(),
		)
		return out, nil
	}

	te := err.(*ToolError)
	r.log.Warn("tool failed",
		"label", c.Label,
		"tool", c.Name,
		"exit", te.ExitStatus,
		"duration_ms", elapsed.Milliseconds(),
		"stderr_tail", truncate(te.StderrTail, 512),
	)
	return out, err
}

// stop asks the process group to terminate and kills it after the grace
// period.
func (r *ProcessRunner) stop(cmd *exec.Cmd, exited <-chan struct{}, label string) {
	_ = terminate(cmd)
	select {
	case <-exited:
		return
	case <-time.After(r.grace):
	}
	r.log.Warn("tool ignored termination, killing", "label", label, "pid", cmd.Process.Pid)
	_ = kill(cmd)
}

func (r *ProcessRunner) startFailed(c Command, err error) error {
	r.log.Error("tool could not start", "label", c.Label, "tool", c.Name, "error", err.Error())
	return &ToolError{Label: c.Label, ExitStatus: ExitStartFailed, Err: err}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// ringBuffer keeps the last cap bytes written to it.
type ringBuffer struct {
	buf []byte
	cap int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	if overflow := len(r.buf) + len(p) - r.cap; overflow > 0 {
		r.buf = append(r.buf[overflow:], p...)
		return len(p), nil
	}
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Tail returns the last n non-empty-terminated lines.
func (r *ringBuffer) Tail(n int) string {
	s := strings.TrimRight(string(r.buf), "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// limitedBuffer discards writes past limit while still reporting success so
// the pipe keeps draining.
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.limit - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
