package director

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorKind classifies a tool failure for retry and circuit decisions.
type ErrorKind string

const (
	// ErrorKindTransient marks failures worth retrying with backoff:
	// network trouble, quota exhaustion, server overload.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent marks failures that will not improve on retry,
	// such as an unsupported parameter or a malformed request. Permanent
	// failures trip the capability's circuit immediately.
	ErrorKindPermanent ErrorKind = "permanent"

	// ErrorKindSafety marks content-policy rejections. These are never
	// retried and never counted against the circuit; the caller is
	// expected to revise the prompt and resubmit.
	ErrorKindSafety ErrorKind = "safety_rejected"
)

// ToolError is a classified failure returned from a gateway invocation.
// It supports Go's error wrapping with Unwrap.
type ToolError struct {
	Kind       ErrorKind  `json:"kind"`
	Capability Capability `json:"capability,omitempty"`
	Cause      string     `json:"cause"`
	Wrapped    error      `json:"-"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Wrapped
}

// Retryable reports whether the failure may be retried with backoff.
func (e *ToolError) Retryable() bool {
	return e.Kind == ErrorKindTransient
}

// NewTransientError returns a retryable ToolError.
func NewTransientError(capability Capability, cause string) *ToolError {
	return &ToolError{Kind: ErrorKindTransient, Capability: capability, Cause: cause}
}

// NewPermanentError returns a non-retryable ToolError that trips the circuit.
func NewPermanentError(capability Capability, cause string) *ToolError {
	return &ToolError{Kind: ErrorKindPermanent, Capability: capability, Cause: cause}
}

// NewSafetyRejectedError returns a content-policy rejection.
func NewSafetyRejectedError(capability Capability, cause string) *ToolError {
	return &ToolError{Kind: ErrorKindSafety, Capability: capability, Cause: cause}
}

// ClassifyError promotes a plain error into a ToolError. Errors that already
// carry a classification pass through unchanged. Unknown errors default to
// transient so that flaky tools get retried; anything known to be
// unretryable should be returned as a permanent ToolError at the source.
func ClassifyError(capability Capability, err error) *ToolError {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	return &ToolError{
		Kind:       classifyByType(err),
		Capability: capability,
		Cause:      err.Error(),
		Wrapped:    err,
	}
}

// classifyByType applies heuristics for common error shapes.
func classifyByType(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return classifyByType(urlErr.Err)
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"quota",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return ErrorKindTransient
		}
	}
	// Unknown errors default to transient so a flaky tool gets retried.
	return ErrorKindTransient
}

// ValidationError indicates a malformed pipeline or JobSpec. It is raised at
// submission and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// NewValidationError formats a new ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IntegrityError indicates checkpoint or artifact corruption, including a
// job id that resolves to two different contents. It is fatal to the
// affected job but must not corrupt sibling state.
type IntegrityError struct {
	JobID  string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.JobID == "" {
		return "integrity error: " + e.Reason
	}
	return fmt.Sprintf("integrity error: job %s: %s", e.JobID, e.Reason)
}

var (
	// ErrRunNotFound is returned when a run id has no checkpoint record.
	ErrRunNotFound = errors.New("run not found")

	// ErrArtifactNotFound is returned when a job has no stored artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
)
