package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"ragdocs/backend/features/conversation"
	featindex "ragdocs/backend/features/index"
	"ragdocs/backend/features/job"
	"ragdocs/backend/features/stats"
	"ragdocs/backend/internal/adapter/gemini"
	"ragdocs/backend/internal/answer"
	"ragdocs/backend/internal/config"
	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/index"
	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/middleware"
	"ragdocs/backend/internal/retrieval"
	"ragdocs/backend/internal/tracker"
	"ragdocs/backend/internal/worker"
)

type App struct {
	Handler       http.Handler
	IndexService  *featindex.Service
	ApplyConsumer *worker.ApplyConsumer
	Indexer       *index.Indexer
	Tracker       *tracker.Tracker

	cfg       *config.Config
	embedder  *gemini.Embedder
	generator *gemini.Generator
}

// Options overrides the model clients. Tests swap in fakes here so the app
// can be wired end to end without Gemini credentials.
type Options struct {
	Embedder  index.Embedder
	Generator answer.Generator
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger, opts ...*Options) (*App, error) {
	manifestStore := manifest.NewPostgresStore(deps.DB)

	opt := &Options{}
	if len(opts) > 0 && opts[0] != nil {
		opt = opts[0]
	}

	var gemEmbedder *gemini.Embedder
	var gemGenerator *gemini.Generator

	embedder := opt.Embedder
	if embedder == nil {
		var err error
		gemEmbedder, err = gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		embedder = gemEmbedder
	}

	generator := opt.Generator
	if generator == nil {
		var err error
		gemGenerator, err = gemini.NewGenerator(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
		if err != nil {
			return nil, fmt.Errorf("gemini generator: %w", err)
		}
		generator = gemGenerator
	}

	parser := document.NewParser(cfg.ChunkMaxChars)
	trk := tracker.New(cfg.DocsDir)

	indexer := index.New(parser, embedder, deps.VectorStore, manifestStore, index.Options{
		BatchSize: cfg.EmbedBatchSize,
	})

	// One search handle per technology subdirectory, bound at startup.
	registry := retrieval.NewRegistry()
	techs, err := trk.Technologies()
	if err != nil {
		logger.Warn("failed to list technologies, registry starts empty", "error", err)
	}
	for _, tech := range techs {
		registry.Register(tech, deps.VectorStore.TechnologyIndex(tech))
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retriever := retrieval.NewRetriever(embedder, registry, queryLogger)
	synthesizer := answer.NewSynthesizer(generator, answer.Options{
		HistoryWindow: cfg.HistoryWindow,
	})

	// Feature: Conversation
	convRepo := conversation.NewPostgresRepo(deps.DB)
	convService := conversation.NewService(convRepo, retriever, synthesizer, cfg.SearchTopK)
	convHandler := conversation.NewHandler(convService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobService := job.NewService(jobRepo, deps.NSQProducer)
	jobHandler := job.NewHandler(jobService)

	// Feature: Index
	indexService := featindex.NewService(trk, manifestStore, deps.NSQProducer)
	indexHandler := featindex.NewHandler(indexService, registry)

	// Feature: Stats
	statsHandler := stats.NewHandler(manifestStore, jobService)

	applyConsumer := worker.NewApplyConsumer(indexer, trk, jobRepo, 3)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(convHandler.Query)))
	mux.Handle("GET /conversations/{id}", middleware.CorrelationID(enableCORS(convHandler.Get)))

	mux.Handle("POST /reindex", middleware.CorrelationID(enableCORS(indexHandler.Reindex)))
	mux.Handle("GET /technologies", middleware.CorrelationID(enableCORS(indexHandler.Technologies)))
	mux.Handle("GET /categories", middleware.CorrelationID(enableCORS(indexHandler.Categories)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.Get)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:       mux,
		IndexService:  indexService,
		ApplyConsumer: applyConsumer,
		Indexer:       indexer,
		Tracker:       trk,
		cfg:           cfg,
		embedder:      gemEmbedder,
		generator:     gemGenerator,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Close() {
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			slog.Warn("failed to close embedder", "error", err)
		}
	}
	if a.generator != nil {
		if err := a.generator.Close(); err != nil {
			slog.Warn("failed to close generator", "error", err)
		}
	}
}
