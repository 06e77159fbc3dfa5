// cmd/dashboard/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"memberdesk/internal/chaos"
	"memberdesk/internal/clients"
	"memberdesk/internal/config"
	"memberdesk/internal/dashboard"
	"memberdesk/internal/journal"
	"memberdesk/internal/ledgerview"
	"memberdesk/internal/log"
	"memberdesk/internal/membership"
	"memberdesk/internal/notify"
	"memberdesk/internal/telemetry"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("dashboard stopped", log.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "memberdesk-dashboard", version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", log.FieldError, err)
		}
	}()

	members, err := newMemberAPI(cfg, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := newJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	feed := notify.NewFeed(cfg.NotificationTTL)
	var sink notify.Sink = feed
	if cfg.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		sink = notify.Fanout{feed, pub}
		logger.Info("publishing notifications to AMQP", "exchange", cfg.AMQPExchange)
	}

	views := ledgerview.NewRegistry(members,
		ledgerview.WithJournal(store),
		ledgerview.WithNotifier(sink),
		ledgerview.WithLogger(logger),
	)
	srv := dashboard.NewServer(":"+cfg.Port, dashboard.Deps{
		Members:  members,
		Views:    views,
		Notifier: sink,
		Feed:     feed,
		Journal:  store,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dashboard listening", "addr", srv.Addr, "member_api", cfg.MemberAPIBackend, "journal", cfg.JournalBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return feed.Run(gctx, time.Second)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", log.FieldOperation, log.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newMemberAPI returns the Member API backend selected by cfg.
func newMemberAPI(cfg *config.Config, logger *log.Logger) (membership.Service, error) {
	if cfg.MemberAPIBackend == config.BackendMemory {
		svc := membership.NewMemoryService()
		if err := svc.RegisterOperator(cfg.DevOperatorEmail, cfg.DevOperatorPassword); err != nil {
			return nil, fmt.Errorf("register dev operator: %w", err)
		}
		logger.Warn("using in-memory Member API", "operator", cfg.DevOperatorEmail)
		return svc, nil
	}

	var transport http.RoundTripper
	if cfg.ChaosEnabled() {
		injector := chaos.NewInjector(nil, uint64(time.Now().UnixNano()))
		injector.Add(chaos.Fault{
			Name:        "configured",
			Latency:     cfg.ChaosLatency,
			FailureRate: cfg.ChaosFailureRate,
			StatusCode:  http.StatusServiceUnavailable,
		})
		transport = injector
		logger.Warn("injecting faults into Member API calls",
			"failure_rate", cfg.ChaosFailureRate, "latency", cfg.ChaosLatency)
	}

	client, err := clients.NewMembershipClient(cfg.MemberAPIURL, clients.Options{
		Timeout:   cfg.MemberAPITimeout,
		RateLimit: rate.Limit(cfg.MemberAPIRateLimit),
		Burst:     cfg.MemberAPIBurst,
		Retries:   uint(cfg.MemberAPIRetries),
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newJournal(ctx context.Context, cfg *config.Config) (journal.Store, func(), error) {
	if cfg.JournalBackend != config.JournalPostgres {
		return journal.NewMemoryStore(), func() {}, nil
	}
	db, err := journal.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := journal.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
