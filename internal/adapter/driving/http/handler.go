package http

import (
	"net/http"

	"github.com/auraline/readings/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type Handler struct {
	Sessions *service.Sessions
	Relay    *service.Relay
	Presence *service.Presence

	jwtSecret   []byte
	defaultRate int64
}

func NewHandler(sessions *service.Sessions, relay *service.Relay, presence *service.Presence, jwtSecret string, defaultRatePerMinuteCents int64) *Handler {
	return &Handler{
		Sessions:    sessions,
		Relay:       relay,
		Presence:    presence,
		jwtSecret:   []byte(jwtSecret),
		defaultRate: defaultRatePerMinuteCents,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/ws", h.ServeWS)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}
