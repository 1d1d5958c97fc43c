package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-insteon/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Get("/metrics", s.handleMetrics)

			r.Route("/interfaces", func(r chi.Router) {
				r.Get("/", s.handleListInterfaces)
				r.With(s.requirePermission(auth.PermInterfaceManage)).Post("/select", s.handleSelectInterface)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleGetDeviceHistory)
					r.With(s.requirePermission(auth.PermCommandSend)).Post("/commands", s.handleSubmitCommand)
				})
			})

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommands)
				r.Get("/{id}", s.handleGetCommand)
			})

			r.Route("/discovery", func(r chi.Router) {
				r.Get("/", s.handleListDiscovery)
				r.With(s.requirePermission(auth.PermDiscoveryManage)).Delete("/{address}", s.handleForgetDiscovery)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}
