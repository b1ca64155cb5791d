// Package handler implements the router's HTTP handlers.
//
// RouteHandler resolves the logical service name of /api/{service}/{rest...},
// forwards the request to the registered backend and relays the response.
// Router-level failures are answered with a JSON error body. The package also
// serves the /health and /services endpoints and JSON fallbacks for unknown
// paths and methods.
package handler
