// Package backend models a registered backend service: its logical name, base
// URL, probed health and live request statistics.
package backend
