package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trainflow/internal/platform/config"
	"trainflow/internal/platform/httpserver"
	"trainflow/internal/platform/logger"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies and owns the process lifecycle. Business logic lives
// in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("trainflow exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := httpserver.New(cfg.Server.Addr, app.router)

	g, ctx := errgroup.WithContext(ctx)
	if app.scheduler != nil {
		if err := app.scheduler.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			app.scheduler.Stop()
			return nil
		})
	}
	g.Go(func() error {
		return httpserver.Run(ctx, srv, log, shutdownTimeout)
	})
	return g.Wait()
}
