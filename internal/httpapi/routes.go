package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/hub"
	"github.com/DoyleJ11/anifight-draft/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Hub     *hub.Hub
	Catalog catalog.Catalog
	Logger  *zap.Logger
	WS      ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/rooms", CreateRoom(d.Hub, d.Logger))
	r.Get("/rooms", Rooms(d.Hub))
	r.Post("/api/score", Score(d.Catalog, d.Logger))
	r.Get("/api/templates/{id}", Template(d.Catalog, d.Logger))

	wsHandler := ws.Handler(d.Hub, d.Logger, d.WS)
	r.Get("/ws/game/{code}/", wsHandler)
	r.Get("/ws/game/{code}", wsHandler)
	return r
}
