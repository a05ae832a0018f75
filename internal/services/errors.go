package services

import (
	"errors"
	"fmt"
	"strings"
)

// Markers for the failure taxonomy. Per-file failures carry one of these so
// the pipeline can decide whether a failure counts against the retry budget.
var (
	// ErrDiscovery marks a failure to list the input directory. It only skips
	// discovery for the current cycle.
	ErrDiscovery = errors.New("discovery error")
	// ErrStaging marks a failed local copy. Counts against the retry budget.
	ErrStaging = errors.New("staging error")
	// ErrEncode marks an encoder process that did not exit cleanly. Counts
	// against the retry budget.
	ErrEncode = errors.New("encode error")
	// ErrCleanup marks a failed removal of a staged copy after success. Logged only.
	ErrCleanup = errors.New("cleanup error")
)

// ErrorKind is the short classification written to structured logs.
type ErrorKind string

const (
	ErrorKindDiscovery ErrorKind = "discovery"
	ErrorKindStaging   ErrorKind = "staging"
	ErrorKindEncode    ErrorKind = "encode"
	ErrorKindCleanup   ErrorKind = "cleanup"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// ServiceError is the structured form of a per-file failure.
type ServiceError struct {
	Marker    error
	Kind      ErrorKind
	Operation string
	Message   string
	Path      string
	Hint      string
	// ExitCode is the encoder exit status; -1 when the process never ran or was killed.
	ExitCode int
	Cause    error
}

func (e *ServiceError) Error() string {
	parts := make([]string, 0, 4)
	if e.Marker != nil {
		parts = append(parts, e.Marker.Error())
	}
	if op := strings.TrimSpace(e.Operation); op != "" {
		parts = append(parts, op)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Wrap builds a ServiceError tagged with the provided marker. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	return &ServiceError{
		Marker:    marker,
		Kind:      kindForMarker(marker),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		ExitCode:  -1,
		Cause:     err,
	}
}

// ErrorDetails is a flattened view of a failure for structured logging.
type ErrorDetails struct {
	Kind      ErrorKind
	Operation string
	Message   string
	Path      string
	Hint      string
	ExitCode  int
	Cause     error
}

// Details extracts structured fields from err, falling back to marker
// classification when err is not a ServiceError.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: ErrorKindUnknown, ExitCode: -1}
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		kind := svcErr.Kind
		if kind == "" {
			kind = kindForMarker(svcErr.Marker)
		}
		return ErrorDetails{
			Kind:      kind,
			Operation: svcErr.Operation,
			Message:   svcErr.Message,
			Path:      svcErr.Path,
			Hint:      svcErr.Hint,
			ExitCode:  svcErr.ExitCode,
			Cause:     svcErr.Cause,
		}
	}
	return ErrorDetails{Kind: Classify(err), Message: err.Error(), ExitCode: -1}
}

// Classify maps an error to its taxonomy kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrDiscovery):
		return ErrorKindDiscovery
	case errors.Is(err, ErrStaging):
		return ErrorKindStaging
	case errors.Is(err, ErrEncode):
		return ErrorKindEncode
	case errors.Is(err, ErrCleanup):
		return ErrorKindCleanup
	default:
		return ErrorKindUnknown
	}
}

// CountsAgainstBudget reports whether a failure consumes one retry attempt.
func CountsAgainstBudget(err error) bool {
	return errors.Is(err, ErrStaging) || errors.Is(err, ErrEncode)
}

func kindForMarker(marker error) ErrorKind {
	if marker == nil {
		return ErrorKindUnknown
	}
	return Classify(marker)
}

// WithHint returns err with an operator hint attached when err is a ServiceError.
func WithHint(err error, hint string) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		svcErr.Hint = strings.TrimSpace(hint)
	}
	return err
}

// WithPath returns err with a related filesystem path attached when err is a ServiceError.
func WithPath(err error, path string) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		svcErr.Path = path
	}
	return err
}

// Errorf is shorthand for Wrap with a formatted message and no cause.
func Errorf(marker error, operation, format string, args ...any) error {
	return Wrap(marker, operation, fmt.Sprintf(format, args...), nil)
}
