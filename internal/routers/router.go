package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"collabhub/internal/api"
	"collabhub/internal/hub"
)

func New(log *zap.Logger, h *hub.Hub) http.Handler {
	handlers := api.NewHandlers(log, h)
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/api/v1/healthz", handlers.Health)
	r.Get("/api/v1/rooms/{id}", handlers.RoomStatus)
	r.Post("/api/v1/notifications", handlers.NotifyUser)

	r.Get("/ws", handlers.HubWS)

	return r
}
