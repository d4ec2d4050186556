package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"hookline/internal/breaker"
	"hookline/internal/config"
	"hookline/internal/dispatch"
	"hookline/internal/schema"
	"hookline/internal/storage"
	"hookline/internal/subscription"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	breaker    *breaker.Breaker
	parser     *subscription.Parser
	registry   *schema.Registry
	syncTO     time.Duration
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(
	cfg config.ServerConfig,
	store storage.Storage,
	dispatcher *dispatch.Dispatcher,
	b *breaker.Breaker,
	parser *subscription.Parser,
	registry *schema.Registry,
	syncTimeout time.Duration,
	log zerolog.Logger,
) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		breaker:    b,
		parser:     parser,
		registry:   registry,
		syncTO:     syncTimeout,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	intHandler := NewIntegrationHandler(s.store, s.breaker)
	epHandler := NewEndpointHandler(s.store, s.parser, s.registry)
	evHandler := NewEventHandler(s.dispatcher, s.syncTO)
	dlvHandler := NewDeliveryHandler(s.store)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		// Integrations
		r.Post("/integrations", intHandler.Create)
		r.Get("/integrations", intHandler.List)
		r.Get("/integrations/{id}", intHandler.Get)
		r.Delete("/integrations/{id}", intHandler.Remove)
		r.Get("/integrations/{id}/stats", intHandler.Stats)
		r.Post("/integrations/{id}/breaker/reset", intHandler.ResetBreaker)
		r.Post("/integrations/{id}/endpoints", epHandler.Create)
		r.Get("/integrations/{id}/endpoints", epHandler.List)

		// Endpoints
		r.Get("/endpoints/{id}", epHandler.Get)
		r.Put("/endpoints/{id}", epHandler.Update)
		r.Delete("/endpoints/{id}", epHandler.Delete)
		r.Patch("/endpoints/{id}/toggle", epHandler.Toggle)
		r.Get("/endpoints/{id}/deliveries", epHandler.Deliveries)

		// Events
		r.Post("/events", evHandler.Fire)
		r.Post("/events/sync", evHandler.Sync)

		// Deliveries
		r.Get("/deliveries/{id}", dlvHandler.Get)
		r.Get("/deliveries/{id}/attempts", dlvHandler.Attempts)
		r.Post("/deliveries/{id}/retry", dlvHandler.Retry)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
