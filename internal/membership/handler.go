// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cookie and header names of the Sanctum-style session protocol.
const (
	XSRFCookie    = "XSRF-TOKEN"
	XSRFHeader    = "X-XSRF-TOKEN"
	SessionCookie = "memberdesk_session"
)

// Handler serves the Member API routes over a Service, with cookie sessions
// and double-submit XSRF protection.
type Handler struct {
	service  Service
	mu       sync.Mutex
	sessions map[string]struct{}
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, sessions: make(map[string]struct{})}
}

// Routes returns the router for the Member API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/csrf-cookie", h.handleCSRFCookie)
	r.Get("/sanctum/csrf-cookie", h.handleCSRFCookie)

	r.Group(func(r chi.Router) {
		r.Use(h.requireXSRF)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Route("/api", func(r chi.Router) {
			r.Use(h.requireSession)
			r.Get("/members", h.handleListMembers)
			r.Post("/members/store", h.handleCreateMember)
			r.Post("/members/bulk-delete", h.handleBulkDelete)
			r.Get("/member/{id}", h.handleGetMember)
			r.Delete("/member/delete/{id}", h.handleDeleteMember)
			r.Post("/payments", h.handleCreatePayment)
			r.Put("/wallet/update-balance/member/{id}", h.handleUpdateBalance)
		})
	})
	return r
}

func (h *Handler) handleCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:  XSRFCookie,
		Value: url.QueryEscape(uuid.NewString()),
		Path:  "/",
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireXSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(XSRFCookie)
		if err != nil {
			writeMessage(w, 419, "CSRF token mismatch.")
			return
		}
		want, err := url.QueryUnescape(cookie.Value)
		if err != nil || want == "" || r.Header.Get(XSRFHeader) != want {
			writeMessage(w, 419, "CSRF token mismatch.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err == nil {
			h.mu.Lock()
			_, ok := h.sessions[cookie.Value]
			h.mu.Unlock()
			if ok {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated.")
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	fields := FieldErrors{}
	if req.Email == "" {
		fields["email"] = "The email field is required."
	}
	if req.Password == "" {
		fields["password"] = "The password field is required."
	}
	if len(fields) > 0 {
		writeError(w, fields)
		return
	}

	if err := h.service.Authenticate(r.Context(), req.Email, req.Password, req.Remember); err != nil {
		writeError(w, err)
		return
	}

	token := uuid.NewString()
	h.mu.Lock()
	h.sessions[token] = struct{}{}
	h.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful"})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		h.mu.Lock()
		delete(h.sessions, cookie.Value)
		h.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListMembers(r.Context(), ParseListQuery(r.URL.Query()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": page})
}

func (h *Handler) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req NewMember
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	member, err := h.service.CreateMember(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"member":  member,
		"message": "Member created successfully",
	})
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (h *Handler) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	msg, err := h.service.DeleteMember(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, msg)
}

func (h *Handler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := h.service.BulkDeleteMembers(r.Context(), req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, msg)
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID    json.Number      `json:"member_id"`
		PaymentDate string           `json:"payment_date"`
		Balance     *decimal.Decimal `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	fields := FieldErrors{}
	memberID, err := req.MemberID.Int64()
	if err != nil {
		fields["member_id"] = "The member id field is required."
	}
	date, err := ParseDate(req.PaymentDate)
	if err != nil {
		fields["payment_date"] = "The payment date field must be a valid date."
	}
	if req.Balance == nil {
		fields["balance"] = "The balance field is required."
	}
	if len(fields) > 0 {
		writeError(w, fields)
		return
	}

	record, err := h.service.CreatePayment(r.Context(), memberID, date, *req.Balance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           record.ID,
		"member_id":    record.MemberID,
		"payment_date": record.PaymentDate,
		"balance":      record.Amount,
	})
}

func (h *Handler) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req struct {
		Balance *decimal.Decimal `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Balance == nil {
		writeError(w, FieldErrors{"balance": "The balance field is required."})
		return
	}

	if err := h.service.UpdateBalance(r.Context(), id, *req.Balance); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Balance updated successfully",
		"balance": *req.Balance,
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid member ID")
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var fields FieldErrors
	switch {
	case errors.As(err, &fields):
		errs := make(map[string][]string, len(fields))
		for k, v := range fields {
			errs[k] = []string{v}
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  errs,
		})
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, "Invalid email or password.")
	case errors.Is(err, ErrRateLimited):
		writeMessage(w, http.StatusTooManyRequests, "Too many login attempts.")
	default:
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
