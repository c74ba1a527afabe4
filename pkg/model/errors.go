package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// errNotRetryable marks local failures (request encoding, bad config) that
// would fail the same way on every attempt.
var errNotRetryable = errors.New("model: request not retryable")

// Permanent wraps a local failure so Classify never retries it.
func Permanent(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Err: fmt.Errorf("%w: %w", errNotRetryable, err)}
}

// BackendError classifies a backend failure for the retry policy.
type BackendError struct {
	Backend    string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("model: %s backend %s error (status %d): %v", e.Backend, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model: %s backend %s error: %v", e.Backend, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is lets callers match failure.ErrBackend.
func (e *BackendError) Is(target error) bool {
	return target == failure.ErrBackend
}

// TransientStatus reports whether an HTTP status is worth retrying: request
// timeouts, conflicts, rate limits and server-side errors (including 529
// overloaded).
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// Classify wraps err as a *BackendError. status is the HTTP status when the
// SDK exposed one, 0 otherwise. Context cancellation is returned unchanged.
func Classify(backend string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	out := &BackendError{Backend: backend, StatusCode: status, Err: err}
	if status > 0 {
		out.Transient = TransientStatus(status)
		return out
	}
	// No status means the request never got an API answer: dial errors,
	// resets, timeouts and truncated bodies all land here.
	out.Transient = true
	return out
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
