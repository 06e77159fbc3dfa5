// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memberdesk/internal/chaos"
	"memberdesk/internal/config"
	"memberdesk/internal/log"
)

func main() {
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "seed for probabilistic faults")
	pause := flag.Duration("pause", 0, "wait between experiments")
	flag.Parse()

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentChaos,
		Output:    os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sandbox, err := chaos.NewSandbox(ctx, *seed, logger)
	if err != nil {
		logger.Error("failed to start sandbox", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sandbox.Close(closeCtx)
	}()

	scenarios, err := sandbox.Experiments(ctx)
	if err != nil {
		logger.Error("failed to prepare experiments", log.FieldError, err)
		os.Exit(1)
	}

	engine := chaos.NewEngine(logger)
	engine.Register(scenarios...)
	gameDay := chaos.GameDay{
		Name:      "Ledger Resilience Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	}

	if err := engine.ExecuteGameDay(ctx, gameDay, os.Stdout); err != nil {
		logger.Error("game day failed", log.FieldError, err, "seed", *seed)
		os.Exit(1)
	}
}
