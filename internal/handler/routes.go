package handler

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// APIPrefix is the path prefix of routed requests.
const APIPrefix = "/api/"

// ForwardedMethods are the methods registered explicitly under /api/{service}.
// Any other method reaches route through the router's fallback handlers.
var ForwardedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// MountRoutes registers route for /api/:service and /api/:service/*rest.
//
// The router's NotFound and MethodNotAllowed handlers are wrapped so that
// every method and every path under /api/ is routed as well; they default to
// NotFound and MethodNotAllowed for other paths. Set them before calling
// MountRoutes to replace those defaults.
func MountRoutes(router *httprouter.Router, route http.Handler) {
	for _, method := range ForwardedMethods {
		router.Handler(method, "/api/:service", route)
		router.Handler(method, "/api/:service/*rest", route)
	}

	router.NotFound = apiFallback(route, orDefault(router.NotFound, NotFound()))
	router.MethodNotAllowed = apiFallback(route, orDefault(router.MethodNotAllowed, MethodNotAllowed()))
}

func apiFallback(route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, APIPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		// set by httprouter before MethodNotAllowed
		w.Header().Del("Allow")
		route.ServeHTTP(w, r)
	})
}

func orDefault(h, def http.Handler) http.Handler {
	if h == nil {
		return def
	}
	return h
}
