// internal/clients/errors.go
package clients

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"memberdesk/internal/membership"
)

// StatusCSRFMismatch is Laravel's "page expired" status.
const StatusCSRFMismatch = 419

var (
	ErrUnauthorized = errors.New("member API: unauthenticated")
	ErrForbidden    = errors.New("member API: forbidden")
	ErrNotFound     = errors.New("member API: not found")
	ErrValidation   = errors.New("member API: validation failed")
	ErrCSRFMismatch = errors.New("member API: CSRF token mismatch")
	ErrRateLimited  = errors.New("member API: too many requests")
	ErrUnavailable  = errors.New("member API: unavailable")
	ErrNetwork      = errors.New("member API: network error")
	ErrUnexpected   = errors.New("member API: unexpected response")
)

// RemoteError is a failed Member API call. StatusCode is 0 when no response
// arrived.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Fields     map[string][]string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the status class sentinel, the matching membership error
// and the transport cause.
func (e *RemoteError) Unwrap() []error {
	errs := []error{kindFor(e.StatusCode)}
	switch e.StatusCode {
	case http.StatusNotFound:
		errs = append(errs, membership.ErrNotFound)
	case http.StatusTooManyRequests:
		errs = append(errs, membership.ErrRateLimited)
	case http.StatusUnprocessableEntity:
		if fe := e.FieldErrors(); len(fe) > 0 {
			errs = append(errs, fe)
		}
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FieldErrors flattens the API's field error lists to their first message.
func (e *RemoteError) FieldErrors() membership.FieldErrors {
	if len(e.Fields) == 0 {
		return nil
	}
	fe := make(membership.FieldErrors, len(e.Fields))
	for field, msgs := range e.Fields {
		if len(msgs) > 0 {
			fe[field] = msgs[0]
		}
	}
	return fe
}

// FieldMessages joins every field error message in field order.
func (e *RemoteError) FieldMessages() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var msgs []string
	for _, f := range fields {
		msgs = append(msgs, e.Fields[f]...)
	}
	return strings.Join(msgs, " ")
}

// Temporary reports whether retrying the same request may succeed.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func kindFor(status int) error {
	switch {
	case status == 0:
		return ErrNetwork
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status == StatusCSRFMismatch:
		return ErrCSRFMismatch
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrUnexpected
	}
}
