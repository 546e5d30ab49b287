package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"ragdocs/backend/internal/app"
	"ragdocs/backend/internal/config"
	"ragdocs/backend/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	a, err := app.New(ctx, cfg, deps, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// Repair index/manifest drift left by a previous crash before serving.
	if err := a.Indexer.Reconcile(ctx, a.Tracker); err != nil {
		slog.Warn("startup reconcile left inconsistencies", "error", err)
	}

	// Apply task consumer.
	consumer, err := nsq.NewConsumer(config.TopicIndexApply, "backend", nsq.NewConfig())
	if err != nil {
		return err
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return a.ApplyConsumer.HandleMessage(m)
	}))
	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "error", err)
	} else {
		slog.Info("apply consumer connected")
	}
	defer consumer.Stop()

	// Initial pass over the corpus so a fresh deployment indexes itself.
	go func() {
		counts, err := a.IndexService.Reindex(ctx)
		if err != nil {
			slog.Error("startup reindex failed", "error", err)
			return
		}
		slog.Info("startup reindex scheduled",
			"added", counts.Added,
			"modified", counts.Modified,
			"deleted", counts.Deleted,
			"unchanged", counts.Unchanged)
	}()

	return a.Run(ctx)
}
