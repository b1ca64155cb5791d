// Package config loads the router configuration from defaults, an optional
// YAML file and environment variables, and validates it before startup.
//
// The service registry is a map of logical service names to backend base
// URLs. It comes from the file's "services" section, falls back to the
// built-in defaults when the file has none, and is overlaid by the
// ROUTER_SERVICES environment variable ("name=url,name=url").
package config
