// Package api serves the config flow, the entries and the switches over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/flow"
	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/worker"
)

const maxBodySize = 1 << 20

// Flow runs config and options flow steps.
type Flow interface {
	UserStep(ctx context.Context, input flow.Input) (*flow.Result, error)
	OptionsStep(ctx context.Context, id string, input flow.Input) (*flow.Result, error)
	Remove(ctx context.Context, id string) error
}

// Switches gives access to the zone switches.
type Switches interface {
	Switches() []worker.Switch
	Switch(id string) (worker.Switch, error)
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
}

// Areas lists the Home Assistant areas a room name can resolve to.
type Areas interface {
	Areas() map[string]string
}

type Server struct {
	flow     Flow
	entries  entry.Store
	switches Switches
	areas    Areas
	checks   []metrics.HealthCheck

	httpServer *http.Server
}

func NewServer(addr string, f Flow, entries entry.Store, switches Switches, areas Areas, checks ...metrics.HealthCheck) *Server {
	s := &Server{
		flow:     f,
		entries:  entries,
		switches: switches,
		areas:    areas,
		checks:   checks,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Handle("/health", metrics.HealthHandler(s.checks...))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/flow/user", func(r chi.Router) {
			r.Get("/", s.handleUserForm)
			r.Post("/", s.handleUserStep)
		})

		r.Get("/areas", s.handleListAreas)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", s.handleListEntries)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntry)
				r.Delete("/", s.handleDeleteEntry)
				r.Get("/options", s.handleOptionsForm)
				r.Post("/options", s.handleOptionsStep)
			})
		})

		r.Route("/switches", func(r chi.Router) {
			r.Get("/", s.handleListSwitches)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSwitch)
				r.Post("/turn_on", s.handleTurnOn)
				r.Post("/turn_off", s.handleTurnOff)
			})
		})
	})

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
