package worker

import (
	"context"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

const (
	DefaultPopTimeout   = 30 * time.Second
	DefaultErrorBackoff = time.Second
)

// Source yields queued bulletin ids; queue.RedisQueue implements it.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Handler renders one bulletin; processor.Processor implements it.
type Handler interface {
	ProcessBulletin(ctx context.Context, bulletinID string) error
}

// Sweeper fails renders abandoned by a previous worker process.
type Sweeper interface {
	MarkInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error)
}

type Deps struct {
	Queue   Source
	Handler Handler
	// Sweeper, when set, runs once before the loops start.
	Sweeper    Sweeper
	StaleAfter time.Duration

	// Concurrency is the number of bulletins rendered at once. Values below
	// one mean one.
	Concurrency  int
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
	Log          *logger.Logger
}
