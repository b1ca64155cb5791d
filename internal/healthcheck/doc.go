// Package healthcheck periodically probes every registered backend's /health
// endpoint and records the result on the backend. The result is
// informational: routing never consults it.
package healthcheck
