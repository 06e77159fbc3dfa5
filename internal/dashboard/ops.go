// internal/dashboard/ops.go
package dashboard

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memberdesk/internal/journal"
	"memberdesk/internal/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.now().Sub(s.started).String(),
	})
}

// handleNotifications lists live notifications, optionally for one member
// plus the global ones.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var id int64
	if raw := r.URL.Query().Get("member_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid member ID")
			return
		}
		id = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.feed.Active(id)})
}

// handleReconciliation lists partial payments whose balance write never
// landed, oldest first.
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.Unreconciled(r.Context())
	if err != nil {
		writeError(w, r, err, msgUnexpected)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid entry ID")
		return
	}
	if err := s.journal.Resolve(r.Context(), id, s.now()); err != nil {
		writeError(w, r, err, "Failed to resolve entry")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "partial payment reconciled", "entry_id", id)
	w.WriteHeader(http.StatusNoContent)
}
