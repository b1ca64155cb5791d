package backend

import (
	"net/url"
	"sync"
	"time"
)

// Backend is one registry entry: the base URL a logical service name resolves to.
type Backend struct {
	name             string
	url              *url.URL
	mutex            sync.Mutex
	isHealthy        bool
	activeForwards   int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// New creates a Backend for the given service name and base URL.
// The backend starts healthy; only a health probe marks it down.
func New(name string, u *url.URL) *Backend {
	return &Backend{
		name:      name,
		url:       u,
		isHealthy: true,
	}
}

// Name returns the logical service name.
func (b *Backend) Name() string {
	return b.name
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// IsHealthy reports the last probed health status.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the backend's health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// BeginForward marks a forward as in flight.
func (b *Backend) BeginForward() {
	b.mutex.Lock()
	b.activeForwards++
	b.mutex.Unlock()
}

// EndForward marks an in-flight forward as finished and folds its duration
// into the moving average.
func (b *Backend) EndForward(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.activeForwards > 0 {
		b.activeForwards--
	}

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// ActiveForwards returns the number of forwards currently in flight.
func (b *Backend) ActiveForwards() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeForwards
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no forwards have completed yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}
