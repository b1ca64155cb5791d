package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/service-router/internal/backend"
)

var (
	// ErrEmpty is returned when a registry would hold no services.
	ErrEmpty = errors.New("registry: no services configured")

	// ErrInvalidURL is returned for a base URL that cannot be forwarded to.
	ErrInvalidURL = errors.New("registry: invalid backend URL")
)

// Registry resolves service names to backends.
type Registry struct {
	entries atomic.Pointer[map[string]*backend.Backend]
	// serializes writers; readers go through entries only
	writeMu sync.Mutex
}

// Change describes what a Replace call did.
type Change struct {
	Added   []string
	Removed []string
	Updated []string
}

// Empty reports whether the replace left the registry untouched.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// New builds a registry from name -> base URL pairs.
func New(services map[string]string) (*Registry, error) {
	entries, err := build(services, nil)
	if err != nil {
		return nil, err
	}

	r := &Registry{}
	r.entries.Store(&entries)
	return r, nil
}

// Lookup returns the backend registered under name.
func (r *Registry) Lookup(name string) (*backend.Backend, bool) {
	b, ok := (*r.entries.Load())[name]
	return b, ok
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

// Snapshot returns all backends sorted by service name.
func (r *Registry) Snapshot() []*backend.Backend {
	entries := *r.entries.Load()

	out := make([]*backend.Backend, 0, len(entries))
	for _, b := range entries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})

	return out
}

// Replace swaps in a new service set. Backends whose URL did not change are
// carried over so their health and statistics survive the reload. On error
// the current set stays in place.
func (r *Registry) Replace(services map[string]string) (Change, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.entries.Load()

	next, err := build(services, current)
	if err != nil {
		return Change{}, err
	}

	var change Change
	for name, b := range next {
		old, ok := current[name]
		switch {
		case !ok:
			change.Added = append(change.Added, name)
		case old != b:
			change.Updated = append(change.Updated, name)
		}
	}
	for name := range current {
		if _, ok := next[name]; !ok {
			change.Removed = append(change.Removed, name)
		}
	}
	sort.Strings(change.Added)
	sort.Strings(change.Removed)
	sort.Strings(change.Updated)

	r.entries.Store(&next)
	return change, nil
}

func build(services map[string]string, reuse map[string]*backend.Backend) (map[string]*backend.Backend, error) {
	if len(services) == 0 {
		return nil, ErrEmpty
	}

	entries := make(map[string]*backend.Backend, len(services))
	for name, raw := range services {
		u, err := ParseBaseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}

		if old, ok := reuse[name]; ok && old.URL().String() == u.String() {
			entries[name] = old
			continue
		}
		entries[name] = backend.New(name, u)
	}

	return entries, nil
}

// NormalizeBaseURL prefixes a bare "host:port" entry with http://. Values
// that already carry a scheme are returned unchanged.
func NormalizeBaseURL(raw string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "http://" + raw
}

// ParseBaseURL parses an absolute http(s) base URL without query or fragment.
// A bare "host:port" is read as http://host:port.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(NormalizeBaseURL(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%w: query and fragment are not allowed", ErrInvalidURL)
	}

	return u, nil
}
