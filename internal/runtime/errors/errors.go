package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired        = sterrors.New("restbridge: configuration is required")
	ErrLoggerRequired        = sterrors.New("restbridge: logger is required")
	ErrPublisherRequired     = sterrors.New("restbridge: publisher is required")
	ErrSubscriberRequired    = sterrors.New("restbridge: subscriber is required")
	ErrTopicRequired         = sterrors.New("restbridge: topic is required")
	ErrSchemaRequired        = sterrors.New("restbridge: schema validator is required")
	ErrConstraintsRequired   = sterrors.New("restbridge: constraint validator is required")
	ErrDelivererRequired     = sterrors.New("restbridge: delivery client is required")
	ErrDeadLetterRequired    = sterrors.New("restbridge: dead-letter router is required")
	ErrNilMessage            = sterrors.New("restbridge: received nil message")
	ErrCommitTokenRequired   = sterrors.New("restbridge: commit token is required")
	ErrAlreadyCommitted      = sterrors.New("restbridge: offset already committed")
	ErrDeliveryAbandoned     = sterrors.New("restbridge: delivery abandoned before completion")
	ErrRetryBudgetExhausted  = sterrors.New("restbridge: retry budget exhausted")
	ErrCircuitOpen           = sterrors.New("restbridge: downstream circuit breaker is open")
	ErrUnsupportedAuthType   = sterrors.New("restbridge: unsupported auth type")
	ErrEmptyResponseBody     = sterrors.New("restbridge: empty response body")
	ErrUnparseableResponse   = sterrors.New("restbridge: unparseable response body")
	ErrDeadLetterUnavailable = sterrors.New("restbridge: dead-letter publish failed")
)

// Kind tags a failure with its place in the error taxonomy. The string value
// is written verbatim into dead-letter records as errorType.
type Kind string

const (
	KindSchemaViolation     Kind = "SchemaViolation"
	KindConstraintViolation Kind = "ConstraintViolation"
	KindRetryableDelivery   Kind = "RetryableDeliveryError"
	KindTerminalDelivery    Kind = "TerminalDeliveryError"
	KindDeadLetterPublish   Kind = "DeadLetterPublishError"
	KindUnclassified        Kind = "UnclassifiedError"
)

// ClassifiedError carries a taxonomy kind alongside the underlying cause.
type ClassifiedError struct {
	Kind       Kind
	Msg        string
	StatusCode int    // zero when no HTTP response was received
	Trace      string // optional diagnostic trace, e.g. a recovered panic stack
	Err        error
}

func (e *ClassifiedError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// New builds a ClassifiedError of the given kind.
func New(kind Kind, msg string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Msg: msg, Err: err}
}

// Newf builds a ClassifiedError with a formatted message and no wrapped cause.
func Newf(kind Kind, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the taxonomy kind of err. Errors that were never classified
// are reported as KindUnclassified.
func KindOf(err error) Kind {
	var classified *ClassifiedError
	if sterrors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnclassified
}

// StatusCodeOf returns the HTTP status attached to err, or zero.
func StatusCodeOf(err error) int {
	var classified *ClassifiedError
	if sterrors.As(err, &classified) {
		return classified.StatusCode
	}
	return 0
}

// TraceOf returns the diagnostic trace attached to err, if any.
func TraceOf(err error) string {
	var classified *ClassifiedError
	if sterrors.As(err, &classified) {
		return classified.Trace
	}
	return ""
}

// IsValidation reports whether err is a schema or constraint violation.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindSchemaViolation, KindConstraintViolation:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err must not be retried. Everything except a
// RetryableDeliveryError is terminal.
func IsTerminal(err error) bool {
	return err != nil && KindOf(err) != KindRetryableDelivery
}

// ConfigValidationError wraps configuration problems found during startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "restbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
