// internal/dashboard/server.go

// Package dashboard is the JSON surface the UI shell talks to.
package dashboard

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"memberdesk/internal/journal"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

// Deps are the collaborators a Server needs. Notifier receives messages the
// handlers raise; Feed is where the UI reads them back.
type Deps struct {
	Members  membership.Service
	Views    *ledgerview.Registry
	Notifier notify.Sink
	Feed     *notify.Feed
	Journal  journal.Store
	Logger   *log.Logger
	Now      func() time.Time
}

type Server struct {
	http.Server
	members  membership.Service
	views    *ledgerview.Registry
	notifier notify.Sink
	feed     *notify.Feed
	journal  journal.Store
	logger   *log.Logger
	now      func() time.Time
	started  time.Time
}

func NewServer(addr string, d Deps) *Server {
	s := &Server{
		members:  d.Members,
		views:    d.Views,
		notifier: d.Notifier,
		feed:     d.Feed,
		journal:  d.Journal,
		logger:   d.Logger,
		now:      d.Now,
	}
	if s.logger == nil {
		s.logger = log.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.feed == nil {
		s.feed = notify.NewFeed(notify.DefaultTTL)
	}
	if s.notifier == nil {
		s.notifier = s.feed
	}
	if s.journal == nil {
		s.journal = journal.NewMemoryStore()
	}
	if s.views == nil {
		s.views = ledgerview.NewRegistry(s.members)
	}
	s.started = s.now()

	s.Addr = addr
	s.Handler = s.Routes()
	s.ReadHeaderTimeout = 5 * time.Second
	s.ReadTimeout = 15 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.IdleTimeout = 120 * time.Second
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(log.Middleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/session", s.handleSignIn)
	r.Delete("/session", s.handleSignOut)

	r.Route("/members", func(r chi.Router) {
		r.Get("/", s.handleListMembers)
		r.Post("/", s.handleCreateMember)
		r.Post("/bulk-delete", s.handleBulkDelete)
		r.Delete("/{id}", s.handleDeleteMember)

		r.Get("/{id}/ledger", s.handleLedger)
		r.Post("/{id}/ledger/refresh", s.handleRefresh)
		r.Post("/{id}/months/{monthKey}/pay", s.handlePayMonth)
		r.Post("/{id}/balance", s.handleAdjustBalance)
	})

	r.Get("/notifications", s.handleNotifications)
	r.Get("/reconciliation", s.handleReconciliation)
	r.Post("/reconciliation/{entryID}/resolve", s.handleResolve)
	return r
}
