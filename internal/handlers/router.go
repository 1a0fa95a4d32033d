package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/hnnp-cloud/internal/services"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Presence   *services.PresenceService
	Links      *services.LinkService
	Dispatcher *services.WebhookDispatcher
	Metrics    *services.Metrics
	Logger     *zap.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	presence := NewPresenceHandler(deps.Presence, deps.Logger)
	links := NewLinkHandler(deps.Links, deps.Logger)
	status := NewStatusHandler(deps.Presence, deps.Dispatcher, deps.Logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(deps.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", status.Health)
	router.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	router.Route("/v2", func(r chi.Router) {
		r.Post("/presence", presence.Submit)
		r.Post("/link", links.Create)
		r.Delete("/link/{linkId}", links.Revoke)
		r.Get("/debug/status", status.Debug)
	})
	return router
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
