// internal/dashboard/members.go
package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"memberdesk/internal/clients"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

const (
	msgCreateFailed      = "Failed to create member. Please try again."
	msgCreateFieldErrors = "Please correct the validation errors below."
	msgCreateAuth        = "Authentication failed. Please refresh the page and try again."
	msgCreateForbidden   = "You do not have permission to create members."
	msgCreateServer      = "Server error. Please try again later."
	msgCreateNetwork     = "Network error. Please check your connection and try again."
	msgDeleteFailed      = "Failed to delete member"
	msgBulkDeleteFailed  = "Failed to delete selected members"
	msgMemberCreated     = "Member created successfully"
)

type memberRow struct {
	membership.Member
	Tier      membership.Tier `json:"tier"`
	TierLabel string          `json:"tier_label"`
}

type listResponse struct {
	Members     []memberRow `json:"members"`
	CurrentPage int         `json:"current_page"`
	LastPage    int         `json:"last_page"`
	PerPage     int         `json:"per_page"`
	Total       int         `json:"total"`
	Query       url.Values  `json:"query"`
}

// handleListMembers serves one page of the directory. toggle_sort applies a
// header click to the incoming sort, and a page past the end is clamped.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := membership.ParseListQuery(values)
	if field := values.Get("toggle_sort"); field != "" {
		q = q.ToggleSort(field).Normalize()
	}

	page, err := s.members.ListMembers(r.Context(), q)
	if err != nil {
		writeError(w, r, err, directoryMessage(err, "Failed to load members"))
		return
	}
	if clamped := page.ClampPage(q.Page); clamped != q.Page {
		q.Page = clamped
		if page, err = s.members.ListMembers(r.Context(), q); err != nil {
			writeError(w, r, err, directoryMessage(err, "Failed to load members"))
			return
		}
	}

	rows := make([]memberRow, 0, len(page.Data))
	for _, m := range page.Data {
		tier := m.Tier()
		rows = append(rows, memberRow{Member: m, Tier: tier, TierLabel: tier.Label()})
	}
	writeJSON(w, http.StatusOK, listResponse{
		Members:     rows,
		CurrentPage: page.CurrentPage,
		LastPage:    page.LastPage,
		PerPage:     page.PerPage,
		Total:       page.Total,
		Query:       q.Values(),
	})
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var form membership.NewMemberForm
	if !decode(w, r, &form) {
		return
	}
	nm, err := form.Parse(s.now())
	if err != nil {
		writeError(w, r, err, msgCreateFieldErrors)
		return
	}

	logger := log.FromContext(r.Context()).With(log.FieldOperation, log.OpCreate)
	member, err := s.members.CreateMember(r.Context(), nm)
	if err != nil {
		logger.WarnContext(r.Context(), "create member failed", log.FieldError, err)
		writeError(w, r, err, createMemberMessage(err))
		return
	}
	logger.InfoContext(r.Context(), "member created", log.FieldMemberID, member.ID)
	s.publish(r, notify.Success(member.ID, msgMemberCreated))
	writeJSON(w, http.StatusCreated, map[string]any{"member": member, "message": msgMemberCreated})
}

func createMemberMessage(err error) string {
	var fields membership.FieldErrors
	var remote *clients.RemoteError
	switch {
	case errors.As(err, &fields):
		return msgCreateFieldErrors
	case errors.Is(err, clients.ErrUnauthorized):
		return msgCreateAuth
	case errors.Is(err, clients.ErrForbidden):
		return msgCreateForbidden
	case errors.As(err, &remote) && remote.StatusCode == http.StatusInternalServerError:
		return msgCreateServer
	case errors.Is(err, clients.ErrNetwork):
		return msgCreateNetwork
	}
	if msg := remoteMessage(err); msg != "" {
		return msg
	}
	return msgCreateFailed
}

// directoryMessage prefers the Member API's message over fallback.
func directoryMessage(err error, fallback string) string {
	if msg := remoteMessage(err); msg != "" {
		return msg
	}
	if errors.Is(err, clients.ErrNetwork) {
		return msgNetwork
	}
	return fallback
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	logger := log.FromContext(r.Context()).With(log.FieldOperation, log.OpDelete, log.FieldMemberID, id)

	msg, err := s.members.DeleteMember(r.Context(), id)
	if err != nil {
		logger.WarnContext(r.Context(), "delete member failed", log.FieldError, err)
		msg := directoryMessage(err, msgDeleteFailed)
		s.publish(r, notify.Error(0, msg))
		writeError(w, r, err, msg)
		return
	}
	s.views.Forget(id)
	logger.InfoContext(r.Context(), "member deleted")
	s.publish(r, notify.Success(0, msg))
	writeMessage(w, http.StatusOK, msg)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberIDs []int64 `json:"member_ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.MemberIDs) == 0 {
		writeError(w, r, membership.FieldErrors{"member_ids": "Select at least one member."}, "Select at least one member.")
		return
	}
	logger := log.FromContext(r.Context()).With(log.FieldOperation, log.OpDelete, "count", len(req.MemberIDs))

	msg, err := s.members.BulkDeleteMembers(r.Context(), req.MemberIDs)
	if err != nil {
		logger.WarnContext(r.Context(), "bulk delete failed", log.FieldError, err)
		msg := directoryMessage(err, msgBulkDeleteFailed)
		s.publish(r, notify.Error(0, msg))
		writeError(w, r, err, msg)
		return
	}
	s.views.Forget(req.MemberIDs...)
	if msg == "" {
		msg = fmt.Sprintf("%d members deleted successfully", len(req.MemberIDs))
	}
	logger.InfoContext(r.Context(), "members deleted")
	s.publish(r, notify.Success(0, msg))
	writeMessage(w, http.StatusOK, msg)
}

func (s *Server) publish(r *http.Request, n notify.Notification) {
	if err := s.notifier.Publish(r.Context(), n); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "failed to publish notification", log.FieldError, err)
	}
}
