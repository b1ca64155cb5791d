package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/angeloszaimis/service-router/internal/handler"
	"github.com/angeloszaimis/service-router/internal/middleware"
)

func setupRouter(a *app) http.Handler {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// CORS answers preflights before routing
	router.HandleOPTIONS = false
	router.NotFound = handler.NotFound()
	router.MethodNotAllowed = handler.MethodNotAllowed()

	router.HandlerFunc(http.MethodGet, "/health",
		handler.Health(a.cfg.Server.ServiceName, a.cfg.Routing.Strategy, nil))
	router.HandlerFunc(http.MethodGet, "/services", handler.Services(a.registry))

	if a.collector != nil {
		router.Handler(http.MethodGet, "/metrics", a.collector.Prometheus().Handler())
		router.HandlerFunc(http.MethodGet, "/stats", a.collector.Handler(a.cfg.Routing.Strategy))
	}

	handler.MountRoutes(router, a.route)

	var security middleware.Middleware
	if a.cfg.Security.Headers {
		security = middleware.SecurityHeaders()
	}

	return middleware.Chain(router,
		middleware.Recoverer(a.log),
		middleware.RequestID(nil),
		security,
		middleware.CORS(a.cfg.CORS.AllowedOrigins),
	)
}
