// Package middleware holds the cross-cutting HTTP wrappers applied around the
// router: panic recovery, request IDs, security headers and CORS.
package middleware
