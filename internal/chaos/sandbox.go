// internal/chaos/sandbox.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"memberdesk/internal/clients"
	"memberdesk/internal/journal"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
)

// Target is the system under test. Backend is the Member API state read
// directly, bypassing faults; Ledger is the path the dashboard uses.
type Target struct {
	Backend  membership.Service
	Ledger   membership.Ledger
	Faults   *Injector
	Journal  journal.Store
	Notifier notify.Sink
	Logger   *log.Logger
	Now      func() time.Time
}

// Sandbox serves an in-memory Member API on a loopback port and signs a
// fault-injected client in to it.
type Sandbox struct {
	Target
	server *http.Server
	done   chan error
}

const sandboxOperator = "chaos@memberdesk.local"

func NewSandbox(ctx context.Context, seed uint64, logger *log.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = log.Discard()
	}

	backend := membership.NewMemoryService()
	password := uuid.NewString()
	if err := backend.RegisterOperator(sandboxOperator, password); err != nil {
		return nil, fmt.Errorf("register sandbox operator: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           membership.NewHandler(backend).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	faults := NewInjector(nil, seed)
	client, err := clients.NewMembershipClient("http://"+ln.Addr().String(), clients.Options{
		Timeout:   5 * time.Second,
		Retries:   1,
		Transport: faults,
		Logger:    logger,
	})
	if err != nil {
		srv.Close()
		return nil, err
	}
	if err := client.Authenticate(ctx, sandboxOperator, password, false); err != nil {
		srv.Close()
		return nil, fmt.Errorf("sign in to sandbox: %w", err)
	}

	return &Sandbox{
		Target: Target{
			Backend:  backend,
			Ledger:   client,
			Faults:   faults,
			Journal:  journal.NewMemoryStore(),
			Notifier: notify.NewFeed(notify.DefaultTTL),
			Logger:   logger,
			Now:      time.Now,
		},
		server: srv,
		done:   done,
	}, nil
}

// Close stops the sandbox server.
func (s *Sandbox) Close(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-s.done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
