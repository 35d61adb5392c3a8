package httpapi

import (
	"database/sql"
	"net/http"

	"bridge/internal/account"
	"bridge/internal/chat"
	"bridge/internal/config"
	"bridge/internal/notify"
	"bridge/internal/request"
	"bridge/internal/worker"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, logger zerolog.Logger, db *sql.DB) http.Handler {
	accounts := account.NewStore(db)
	chats := chat.NewRegistry(db)
	requests := request.NewStore(db)

	broker := notify.NewSSEBroker()
	webhook := notify.NewWebhookSender(cfg.WebhookTimeout, logger)
	fanout := notify.NewFanout(accounts, requests, webhook, broker, logger)

	hub := worker.NewHub(chats, requests, fanout, cfg.WorkerWriteTimeout, logger)
	dispatcher := worker.NewDispatcher(chats, requests, hub, logger)

	h := NewHandler(cfg, logger, accounts, chats, requests, hub, dispatcher, broker)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(Metrics)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/worker", h.WorkerSocket)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(p chi.Router) {
			p.Use(h.RequireAPIKey)
			p.Post("/messages", h.SubmitMessage)
			p.Get("/requests", h.ListRequests)
			p.Get("/requests/{requestID}", h.GetRequest)
			p.Get("/requests/{requestID}/events", h.RequestEvents)
			p.Get("/chats", h.ListChats)
			p.Get("/chats/{remoteChatID}", h.GetChat)
		})
	})

	return r
}
