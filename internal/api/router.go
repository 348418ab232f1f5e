// Package api serves the sync trigger and the read views over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

// SyncRunner starts one sync run. *mgnrega.Syncer satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, opts mgnrega.RunOptions) (mgnrega.Result, error)
}

// Reader serves the read views. *mgnrega.Views satisfies it.
type Reader interface {
	Latest(ctx context.Context) ([]mgnrega.DistrictRecord, error)
	History(ctx context.Context, id string) ([]mgnrega.DistrictRecord, error)
}

// Options configures middleware on the router.
type Options struct {
	CORSOrigins []string

	// RateLimitRequests per RateLimitWindow per client IP on /api routes.
	// Zero disables the limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DefaultOptions mirrors the public deployment: any origin, 30 requests a minute.
func DefaultOptions() Options {
	return Options{
		CORSOrigins:       []string{"*"},
		RateLimitRequests: 30,
		RateLimitWindow:   time.Minute,
	}
}

// Server holds the handler dependencies.
type Server struct {
	syncer SyncRunner
	views  Reader
}

// NewRouter builds the HTTP handler.
func NewRouter(syncer SyncRunner, views Reader, opts Options) http.Handler {
	s := &Server{syncer: syncer, views: views}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/mgnrega", func(r chi.Router) {
		if opts.RateLimitRequests > 0 {
			window := opts.RateLimitWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.LimitByIP(opts.RateLimitRequests, window))
		}
		r.Get("/sync", s.handleSync)
		r.Post("/sync", s.handleSync)
		r.Get("/latest", s.handleLatest)
		r.Get("/district/{id}", s.handleDistrict)
	})

	return r
}
