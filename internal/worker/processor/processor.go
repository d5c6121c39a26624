// Package processor owns one render request end to end: the per-bulletin
// lock, the bulletin's render state, and the retry policy around the
// orchestrator.
package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/lock"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/render"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/repositories"
)

const (
	DefaultMaxAttempts = 2
	DefaultBackoff     = 30 * time.Second
)

// Renderer is the part of render.Orchestrator the processor drives.
type Renderer interface {
	Run(ctx context.Context, b *models.Bulletin, progress render.ProgressFunc) (*render.Result, error)
}

type Deps struct {
	Store    repositories.BulletinStore
	Locker   lock.Locker
	Renderer Renderer
	// MaxAttempts counts the first attempt. Zero means DefaultMaxAttempts.
	MaxAttempts int
	Backoff     time.Duration
	Log         *logger.Logger
}

type Processor struct {
	store       repositories.BulletinStore
	locker      lock.Locker
	renderer    Renderer
	maxAttempts int
	backoff     time.Duration
	log         *logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	backoff := d.Backoff
	if backoff < 0 {
		backoff = 0
	}

	return &Processor{
		store:       d.Store,
		locker:      d.Locker,
		renderer:    d.Renderer,
		maxAttempts: attempts,
		backoff:     backoff,
		log:         log,
		inFlight:    make(map[string]struct{}),
	}
}

// ProcessBulletin renders bulletinID, retrying failed attempts after a fixed
// backoff. Lock contention and a render already in progress are not errors.
// The returned error is the last attempt's.
func (p *Processor) ProcessBulletin(ctx context.Context, bulletinID string) error {
	ctx = logger.ContextWithBulletinID(ctx, bulletinID)

	var err error
	for n := 1; n <= p.maxAttempts; n++ {
		actx := logger.ContextWithAttempt(ctx, n)
		err = p.attempt(actx, bulletinID)
		log := p.log.FromContext(actx)
		if errors.IsCode(err, errors.CodeLockContended) {
			log.Info("render lock held elsewhere, skipping")
			return nil
		}
		if err == nil || !retryable(err) {
			return err
		}

		if n == p.maxAttempts {
			log.Error("render attempts exhausted", "attempts", n, "error", err.Error())
			break
		}
		log.Warn("render attempt failed, retrying", "backoff", p.backoff.String(), "error", err.Error())

		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.backoff):
		}
	}
	return err
}

// attempt is one guarded render.
func (p *Processor) attempt(ctx context.Context, id string) error {
	log := p.log.FromContext(ctx)

	lease, ok, err := p.locker.TryAcquire(ctx, id)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "processor.lock", "acquire render lock")
	}
	if !ok {
		return errors.New(errors.CodeLockContended, "render lock held elsewhere")
	}
	defer func() {
		// The attempt's context may be gone by now.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rerr := lease.Release(rctx); rerr != nil {
			log.Warn("failed to release render lock", "error", rerr.Error())
		}
	}()

	b, err := p.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "processor.load", "load bulletin")
	}
	if b.Rendering() {
		log.Info("bulletin already rendering, skipping")
		return nil
	}

	if err := p.store.MarkRendering(ctx, id); err != nil {
		if errors.IsCode(err, errors.CodeConflict) {
			log.Info("bulletin claimed by another render, skipping")
			return nil
		}
		return errors.Wrap(err, "processor.start", "mark rendering")
	}

	p.track(id, true)
	defer p.track(id, false)

	start := time.Now()
	log.Info("render started", "stories", len(b.Stories))

	res, err := p.renderer.Run(ctx, b, func(pct int, step string) {
		if perr := p.store.UpdateProgress(ctx, id, pct, step); perr != nil {
			log.Warn("progress update failed", "percent", pct, "step", step, "error", perr.Error())
		}
	})
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}

	if err := p.store.MarkDone(ctx, id, res.AssetID, res.Log); err != nil {
		// The video is already published; another attempt would publish it again.
		err = errors.Wrap(err, "processor.finish", "mark done").
			WithField("asset_id", res.AssetID)
		p.fail(ctx, id, &finished{err: err, log: res.Log})
		return &finished{err: err}
	}
	log.Info("render completed",
		"asset_id", res.AssetID,
		"ready", res.Ready,
		"segments", res.Segments,
		"duration_s", res.Duration,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, id string, cause error) {
	log := p.log.FromContext(ctx)

	var runLog string
	var failure *render.Failure
	var fin *finished
	switch {
	case errors.As(cause, &failure):
		runLog = failure.Log
	case errors.As(cause, &fin):
		runLog = fin.log
	}

	tool := errors.IsToolFailure(cause)
	var e *errors.Error
	if errors.As(cause, &e) {
		log.Error("render failed", "code", string(e.Code), "op", e.Op, "message", e.Message, "tool_failure", tool)
	} else {
		log.Error("render failed", "error", cause.Error(), "tool_failure", tool)
	}

	// Record the failure even when the attempt was canceled.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.MarkFailed(sctx, id, cause.Error(), runLog); err != nil {
		p.log.LogError(ctx, "failed to record render failure", err)
	}
}

func (p *Processor) track(id string, running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if running {
		p.inFlight[id] = struct{}{}
	} else {
		delete(p.inFlight, id)
	}
}

// InFlight lists the bulletins this processor is rendering right now.
func (p *Processor) InFlight() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Abandon marks every in-flight bulletin failed with reason. The worker calls
// it when shutdown cannot wait for renders any longer, so the bulletins do
// not stay rendering until the next startup sweep. It returns how many were
// marked.
func (p *Processor) Abandon(ctx context.Context, reason string) int {
	n := 0
	for _, id := range p.InFlight() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := p.store.MarkFailed(sctx, id, reason, "")
		cancel()
		if err != nil {
			p.log.WithBulletinID(id).LogError(ctx, "failed to mark abandoned render", err)
			continue
		}
		p.log.WithBulletinID(id).Warn("render abandoned", "reason", reason)
		n++
	}
	return n
}

// finished marks a failure after the render itself succeeded. It is never
// retried.
type finished struct {
	err error
	log string
}

func (f *finished) Error() string { return f.err.Error() }

func (f *finished) Unwrap() error { return f.err }

// retryable reports whether another attempt could change the outcome.
func retryable(err error) bool {
	var fin *finished
	if errors.As(err, &fin) {
		return false
	}
	switch errors.GetCode(err) {
	case errors.CodeNotFound, errors.CodeValidation, errors.CodeInvalidState:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
