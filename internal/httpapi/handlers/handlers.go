package handlers

import (
	"context"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/repositories"
)

// Enqueuer hands bulletin ids to the render workers.
type Enqueuer interface {
	Push(ctx context.Context, bulletinID string) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Store repositories.BulletinStore
	Queue Enqueuer
	SP    ports.StorageProvider
	Log   *logger.Logger
}

type Handler struct {
	store repositories.BulletinStore
	queue Enqueuer
	sp    ports.StorageProvider
	log   *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		store: d.Store,
		queue: d.Queue,
		sp:    d.SP,
		log:   log.WithComponent("api"),
	}
}

// Log is the logger handlers report through.
func (h *Handler) Log() *logger.Logger { return h.log }
