package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

// Run starts Concurrency loops that pop bulletin ids and hand them to the
// handler. It returns when ctx is canceled, after in-flight renders finish.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	if d.Sweeper != nil && d.StaleAfter > 0 {
		n, err := d.Sweeper.MarkInterrupted(ctx, d.StaleAfter)
		if err != nil {
			log.Warn("could not sweep interrupted renders", "error", err.Error())
		} else if n > 0 {
			log.Warn("marked interrupted renders as failed", "count", n)
		}
	}

	concurrency := d.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = DefaultPopTimeout
	}
	backoff := d.ErrorBackoff
	if backoff <= 0 {
		backoff = DefaultErrorBackoff
	}

	log.Info("worker started", "concurrency", concurrency)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		slot := log.With("slot", i)
		g.Go(func() error {
			loop(ctx, d, &logger.Logger{Logger: slot}, popTimeout, backoff)
			return nil
		})
	}
	g.Wait()

	log.Info("worker stopped")
	return ctx.Err()
}

func loop(ctx context.Context, d Deps, log *logger.Logger, popTimeout, backoff time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, err := d.Queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		if id == "" {
			continue
		}

		jobLog := log.WithBulletinID(id)
		jobLog.Info("processing bulletin")
		start := time.Now()

		// Renders run to completion once popped; cancellation only stops
		// new pops.
		if err := d.Handler.ProcessBulletin(context.WithoutCancel(ctx), id); err != nil {
			jobLog.Error("bulletin render failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		} else {
			jobLog.Info("bulletin processed",
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
