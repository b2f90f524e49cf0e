package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies where a failure originated.
type Kind int

const (
	// KindHTTP is an API-level error with no cache cause (routing, missing entry).
	KindHTTP Kind = iota
	// KindInvalidInput is rejected before any Redis command is issued.
	KindInvalidInput
	// KindBackend is a network, timeout or protocol failure talking to Redis.
	KindBackend
	// KindCommand is a pipelined command that errored or acknowledged unexpectedly.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindBackend:
		return "backend"
	case KindCommand:
		return "command"
	default:
		return "http"
	}
}

// CacheError is the structured failure returned by cache operations and
// written to API clients.
type CacheError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Op         string `json:"op,omitempty"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Kind       Kind   `json:"-"`
	underlying error
}

func (e *CacheError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", msg, e.underlying)
	}
	return msg
}

func (e *CacheError) Unwrap() error {
	return e.underlying
}

// Is matches the kind sentinels (ErrInvalidInput, ErrBackend, ErrCommand)
// against any CacheError of the same kind.
func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	if !ok || t.Kind == KindHTTP {
		return false
	}
	return t == kindSentinels[t.Kind] && t.Kind == e.Kind
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/requestID), uses pre-serialized JSON to avoid allocations.
func (e *CacheError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Kind sentinels, for use with errors.Is.
var (
	ErrInvalidInput = &CacheError{
		Code:    http.StatusBadRequest,
		Message: "Invalid Input",
		Kind:    KindInvalidInput,
	}

	ErrBackend = &CacheError{
		Code:    http.StatusBadGateway,
		Message: "Backend Unavailable",
		Kind:    KindBackend,
	}

	ErrCommand = &CacheError{
		Code:    http.StatusBadGateway,
		Message: "Backend Command Failed",
		Kind:    KindCommand,
	}
)

var kindSentinels = map[Kind]*CacheError{
	KindInvalidInput: ErrInvalidInput,
	KindBackend:      ErrBackend,
	KindCommand:      ErrCommand,
}

// Common API errors
var (
	ErrNotFound = &CacheError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrMethodNotAllowed = &CacheError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}

	ErrBadRequest = &CacheError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrRequestEntityTooLarge = &CacheError{
		Code:    http.StatusRequestEntityTooLarge,
		Message: "Request Entity Too Large",
	}

	ErrServiceUnavailable = &CacheError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}

	ErrInternalServer = &CacheError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*CacheError][]byte

func init() {
	bases := []*CacheError{
		ErrNotFound, ErrMethodNotAllowed, ErrBadRequest,
		ErrRequestEntityTooLarge, ErrServiceUnavailable, ErrInternalServer,
	}
	preSerialized = make(map[*CacheError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new API error.
func New(code int, message string) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
	}
}

// InvalidInput reports input rejected by op before touching Redis.
func InvalidInput(op, details string) *CacheError {
	return &CacheError{
		Code:    http.StatusBadRequest,
		Message: ErrInvalidInput.Message,
		Op:      op,
		Details: details,
		Kind:    KindInvalidInput,
	}
}

// Backend wraps a transport-level Redis failure.
func Backend(op string, err error) *CacheError {
	return &CacheError{
		Code:       http.StatusBadGateway,
		Message:    ErrBackend.Message,
		Op:         op,
		Kind:       KindBackend,
		underlying: err,
	}
}

// Command reports a pipelined command failure. err may be nil when the
// command succeeded at the protocol level but acknowledged unexpectedly.
func Command(op, details string, err error) *CacheError {
	return &CacheError{
		Code:       http.StatusBadGateway,
		Message:    ErrCommand.Message,
		Op:         op,
		Details:    details,
		Kind:       KindCommand,
		underlying: err,
	}
}

// WithDetails adds details to the error
func (e *CacheError) WithDetails(details string) *CacheError {
	c := *e
	c.Details = details
	return &c
}

// WithRequestID adds a request ID to the error
func (e *CacheError) WithRequestID(requestID string) *CacheError {
	c := *e
	c.RequestID = requestID
	return &c
}

// As returns the CacheError in err's chain, if any.
func As(err error) (*CacheError, bool) {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
