// internal/dashboard/session.go
package dashboard

import (
	"errors"
	"net/http"

	"memberdesk/internal/clients"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}

	fields := membership.FieldErrors{}
	if req.Email == "" {
		fields["email"] = "The email field is required."
	}
	if req.Password == "" {
		fields["password"] = "The password field is required."
	}
	if len(fields) > 0 {
		writeError(w, r, fields, joinFieldErrors(fields))
		return
	}

	logger := log.FromContext(r.Context()).With(log.FieldOperation, log.OpSignIn)
	if err := s.members.Authenticate(r.Context(), req.Email, req.Password, req.Remember); err != nil {
		logger.WarnContext(r.Context(), "sign-in failed", log.FieldError, err)
		writeError(w, r, err, signInMessage(err))
		return
	}
	s.views.Clear()
	logger.InfoContext(r.Context(), "signed in")
	writeMessage(w, http.StatusOK, "Login successful")
}

// signInMessage is what the sign-in form shows for err.
func signInMessage(err error) string {
	var fields membership.FieldErrors
	switch {
	case errors.As(err, &fields):
		if msg := joinFieldErrors(fields); msg != "" {
			return msg
		}
		return msgBadCredential
	case errors.Is(err, membership.ErrInvalidCredentials), errors.Is(err, clients.ErrUnauthorized):
		if msg := remoteMessage(err); msg != "" {
			return msg
		}
		return msgBadCredential
	case errors.Is(err, clients.ErrNetwork):
		return msgNetwork
	default:
		return msgUnexpected
	}
}

// handleSignOut always drops local state, even when the Member API call
// fails.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	err := s.members.Logout(r.Context())
	s.views.Clear()
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "sign-out failed upstream",
			log.FieldOperation, log.OpSignOut, log.FieldError, err)
	}
	w.WriteHeader(http.StatusNoContent)
}
