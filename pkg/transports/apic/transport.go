// Package apic provides the HTTPS transport to the fabric controller REST API.
package apic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "login", "GET /api/class/topSystem")
	Op string

	// Err is the underlying error
	Err error

	// StatusCode is the HTTP status, if a response was received
	StatusCode int

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// classify wraps a transport error into the engine error class matching it.
func classify(te *TransportError) error {
	var ee *engine.EngineError
	switch {
	case te.IsAuthError:
		ee = engine.NewAuthError("controller rejected the session", te).WithCode(engine.ErrCodeUnauthorized)
	case te.IsTemporary:
		code := engine.ErrCodeConnection
		switch {
		case te.StatusCode == http.StatusTooManyRequests:
			code = engine.ErrCodeRateLimited
		case te.StatusCode != 0:
			code = engine.ErrCodeHTTPStatus
		case isTimeout(te.Err):
			code = engine.ErrCodeTimeout
		}
		ee = engine.NewTransientError("controller request failed", te).WithCode(code)
	default:
		code := engine.ErrCodeHTTPStatus
		if te.StatusCode == 0 || te.StatusCode == http.StatusOK {
			code = engine.ErrCodeDecode
		}
		ee = engine.NewPermanentError("controller request failed", te).WithCode(code)
	}
	if te.StatusCode != 0 {
		ee = ee.WithDetail("status", te.StatusCode)
	}
	return ee.WithOperation(te.Op)
}

// statusError builds the transport error for an unexpected HTTP status.
func statusError(op string, status int, text string) *TransportError {
	if text == "" {
		text = http.StatusText(status)
	}
	return &TransportError{
		Op:          op,
		Err:         errors.New(text),
		StatusCode:  status,
		IsTemporary: status >= 500 || status == http.StatusTooManyRequests,
		IsAuthError: status == http.StatusUnauthorized || status == http.StatusForbidden,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
