package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for collaborator calls.
// Use errors.Is() or KindOf() to classify them.
var (
	// ErrUnauthorized means the credential is missing or expired.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrForbidden means the credential lacks the needed scope.
	ErrForbidden = errors.New("remote: forbidden")
	// ErrNotFound means the addressed sheet, range or folder does not exist.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnavailable means the store could not be reached or failed transiently.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrNoCredential means no credential is available at all.
	ErrNoCredential = errors.New("remote: not authenticated")
	// ErrRejected means the store refused the request itself; retrying will not help.
	ErrRejected = errors.New("remote: request rejected")
)

// StatusError is an HTTP failure from a remote API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// FromStatus maps a non-2xx HTTP status to a *StatusError wrapping the matching sentinel.
func FromStatus(op string, code int, body []byte) error {
	var kind error
	switch {
	case code == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case code == http.StatusForbidden:
		kind = ErrForbidden
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		kind = ErrUnavailable
	}
	return &StatusError{Op: op, StatusCode: code, Body: string(body), kind: kind}
}

// Kind is the coarse class the coordinator bases its retry policy on.
type Kind int

const (
	KindNone Kind = iota
	// KindAuth errors are retried once after re-consent.
	KindAuth
	// KindTransient errors leave the item queued for a later attempt.
	KindTransient
	// KindPermanent errors will not succeed on retry.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden), errors.Is(err, ErrNoCredential):
		return KindAuth
	case errors.Is(err, ErrRejected), errors.Is(err, ErrNotFound):
		return KindPermanent
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindTransient
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindPermanent
	}
	// Network failures without a status are treated as transient.
	return KindTransient
}
