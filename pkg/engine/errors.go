package engine

import (
	"errors"
	"strings"
)

// ErrorClass tells the retry loop how to react to a failed controller call.
// Every class is retried until the loop's deadline; the class decides what
// happens before the next attempt and how the attempt is logged and counted.
type ErrorClass string

const (
	// ErrorClassTransient failures are retried after the retry interval:
	// refused connections, timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassAuth failures drop the session so the next attempt logs in
	// again.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassPermanent failures are unlikely to clear on another attempt,
	// such as a rejected query or an undecodable response. They are logged
	// as unexpected and retried like any other error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes carried by EngineError.Code.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeConnection   = "CONNECTION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeHTTPStatus   = "HTTP_STATUS"
	ErrCodeDecode       = "DECODE_ERROR"
	ErrCodeRateLimited  = "RATE_LIMITED"
)

var (
	// ErrLoginTimeout is returned when no session could be established
	// within the login budget.
	ErrLoginTimeout = errors.New("login retry budget exhausted")

	// ErrDuplicateCheck is returned when a check name is registered twice.
	ErrDuplicateCheck = errors.New("check already registered")
)

// EngineError is a classified failure of a controller call or a local
// operation feeding a stage.
//
//nolint:revive // engine.EngineError reads better than engine.Error at call sites
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Err       error                  `json:"-"`
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError returns an error the retry loop retries.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

// NewAuthError returns an error that forces a new login.
func NewAuthError(message string, err error) *EngineError {
	return newError(ErrorClassAuth, message, err)
}

// NewPermanentError returns an error that ends the attempt.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// Error formats as "class: operation: message: cause", omitting empty parts.
func (e *EngineError) Error() string {
	parts := []string{string(e.Class)}
	if e.Operation != "" {
		parts = append(parts, e.Operation)
	}
	parts = append(parts, e.Message)
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

// WithOperation records the call that failed.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail attaches a key/value pair.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the outermost EngineError in err's chain.
// Unclassified errors have an empty class.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTransient reports whether err is a connection-level failure.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsAuth reports whether err requires a new login.
func IsAuth(err error) bool {
	return ClassOf(err) == ErrorClassAuth
}

// IsPermanent reports whether err is a failure another attempt is unlikely
// to fix.
func IsPermanent(err error) bool {
	return ClassOf(err) == ErrorClassPermanent
}
