// internal/dashboard/respond.go
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"memberdesk/internal/clients"
	"memberdesk/internal/journal"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
)

const (
	msgNetwork       = "Network error. Please check your internet connection."
	msgUnexpected    = "An unexpected error occurred. Please try again."
	msgBadCredential = "Invalid email or password."
)

type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// writeError answers with the status for err and msg, attaching field
// errors when err carries them.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", log.FieldError, err)
	}
	body := errorBody{Message: msg}
	var fields membership.FieldErrors
	if errors.As(err, &fields) {
		body.Errors = make(map[string][]string, len(fields))
		for k, v := range fields {
			body.Errors[k] = []string{v}
		}
	}
	writeJSON(w, status, body)
}

// statusFor maps an error to the status the UI shell sees.
func statusFor(err error) int {
	var verr *ledgerview.ValidationError
	var fields membership.FieldErrors
	var remote *clients.RemoteError
	switch {
	case errors.Is(err, ledgerview.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ledgerview.ErrPartialPayment):
		return http.StatusBadGateway
	case errors.As(err, &verr), errors.As(err, &fields):
		return http.StatusUnprocessableEntity
	case errors.Is(err, journal.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, journal.ErrNotResolvable):
		return http.StatusConflict
	case errors.Is(err, clients.ErrUnauthorized), errors.Is(err, membership.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, clients.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, membership.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, membership.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// remoteMessage is the Member API's own message, if it sent one.
func remoteMessage(err error) string {
	var remote *clients.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return ""
}

func joinFieldErrors(fields membership.FieldErrors) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fields[k])
	}
	return strings.Join(msgs, " ")
}

func memberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeMessage(w, http.StatusBadRequest, "invalid member ID")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
