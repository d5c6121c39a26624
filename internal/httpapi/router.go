package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpapi/handlers"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/middleware"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/repositories"
)

type Deps struct {
	Store repositories.BulletinStore
	Queue handlers.Enqueuer
	SP    ports.StorageProvider
	Log   *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))

	h := handlers.New(handlers.Deps{
		Store: d.Store,
		Queue: d.Queue,
		SP:    d.SP,
		Log:   log,
	})
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(h.Log(), fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- BULLETINS ----
	r.Post("/bulletins", wrap(h.CreateBulletin))
	r.Route("/bulletins/{bulletinId}", func(r chi.Router) {
		r.Use(middleware.BulletinScope("bulletinId"))
		r.Get("/", wrap(h.GetBulletin))

		// ---- RENDERS ----
		r.Post("/render", wrap(h.PostRender))
		r.Get("/render", wrap(h.GetRender))
	})

	return r
}
