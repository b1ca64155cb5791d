package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a failed route.
type Kind int

const (
	KindServiceNotFound Kind = iota + 1
	KindBackendUnavailable
	KindBackendTimeout
	KindBackendError
	KindCircuitOpen
	KindClientCanceled
	// KindResponseAborted means the backend failed after the response headers
	// were relayed.
	KindResponseAborted
)

// Sentinel errors, one per Kind. A *ForwardError matches its Kind's sentinel
// with errors.Is.
var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendError       = errors.New("backend error")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrClientCanceled     = errors.New("client canceled")
	ErrResponseAborted    = errors.New("response aborted")
)

func (k Kind) String() string {
	switch k {
	case KindServiceNotFound:
		return "service_not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindBackendTimeout:
		return "backend_timeout"
	case KindBackendError:
		return "backend_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindClientCanceled:
		return "client_canceled"
	case KindResponseAborted:
		return "response_aborted"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindServiceNotFound:
		return ErrServiceNotFound
	case KindBackendUnavailable:
		return ErrBackendUnavailable
	case KindBackendTimeout:
		return ErrBackendTimeout
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindClientCanceled:
		return ErrClientCanceled
	case KindResponseAborted:
		return ErrResponseAborted
	default:
		return ErrBackendError
	}
}

// ForwardError is a classified routing failure.
type ForwardError struct {
	Kind    Kind
	Service string
	Target  string
	Cause   error
}

// NewForwardError creates a ForwardError.
func NewForwardError(kind Kind, service, target string, cause error) *ForwardError {
	return &ForwardError{
		Kind:    kind,
		Service: service,
		Target:  target,
		Cause:   cause,
	}
}

func (e *ForwardError) Error() string {
	msg := fmt.Sprintf("forward [%s] service=%s", e.Kind, e.Service)
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the Kind sentinel and the underlying cause.
func (e *ForwardError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Cause}
}

// KindOf returns the Kind carried by err, or KindBackendError for any other
// non-nil error. It returns 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}

	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindBackendError
}

// classify maps a transport error to a Kind. parent is the inbound request
// context, fwd the context carrying the forward timeout.
func classify(parent, fwd context.Context, err error) Kind {
	if parent.Err() != nil {
		return KindClientCanceled
	}
	if errors.Is(fwd.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindBackendTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindBackendTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindBackendUnavailable
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindBackendUnavailable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindBackendUnavailable
	}

	return KindBackendError
}
