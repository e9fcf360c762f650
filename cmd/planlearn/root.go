package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/planlearn/internal/agent"
	"github.com/hyperengineering/planlearn/internal/alerts"
	"github.com/hyperengineering/planlearn/internal/api"
	"github.com/hyperengineering/planlearn/internal/config"
	"github.com/hyperengineering/planlearn/internal/embedding"
	"github.com/hyperengineering/planlearn/internal/export"
	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "planlearn",
	Short:         "Plan & Learn Agent - planning assistant with long-term memory",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize store (migrations, WAL mode on SQLite)
	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "dialect", db.Dialect())

	// 5. Initialize embedding service. Without an OpenAI key recall falls
	// back to recency.
	var embedder embedding.Embedder
	if cfg.LLM.OpenAIAPIKey != "" {
		embedder = embedding.NewOpenAI(cfg.LLM.OpenAIAPIKey, cfg.Embedding.Model)
		slog.Info("embedder initialized", "model", cfg.Embedding.Model)
	} else {
		slog.Warn("embedder disabled, OPENAI_API_KEY not set")
	}

	mem, err := memory.NewManager(db, embedder, nil)
	if err != nil {
		db.Close()
		return err
	}
	defer mem.Close()

	// 6. Initialize providers and the chat agent
	providers, err := llm.NewFactory(cfg.LLM)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("llm provider initialized", "provider", providers.Default().Name(), "model", providers.Default().Model())

	var web agent.WebSearcher
	if ddg, err := agent.NewDuckDuckGo(); err != nil {
		slog.Warn("web search disabled", "error", err)
	} else {
		web = ddg
	}
	chat := agent.NewOrchestrator(providers, mem, agent.NewTools(mem, web, nil), db,
		agent.Options{Temperature: cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens}, nil)

	uploader, err := export.NewUploader(cfg.Export)
	if err != nil {
		db.Close()
		return err
	}

	// 7. Initialize HTTP router
	hub := alerts.NewHub(alerts.DefaultBuffer)
	handler := api.NewHandler(api.Deps{
		Store:        db,
		Memory:       mem,
		Providers:    providers,
		Chat:         chat,
		Suggester:    alerts.NewSuggester(db, nil),
		Detector:     alerts.NewPipeline(db, nil),
		Hub:          hub,
		Exporter:     uploader,
		FreeLimit:    cfg.Usage.FreeLimit,
		PollInterval: time.Duration(cfg.Worker.AlertPollInterval),
		FrontendURL:  cfg.CORS.FrontendURL,
		Version:      Version,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 8. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}
	srv.RegisterOnShutdown(handler.CloseStreams)

	// 9. Background workers
	var wg sync.WaitGroup
	augmentation := worker.NewAugmentationWorker(
		memory.NewAugmenter(mem, providers.Default(), nil),
		cfg.Worker.AugmentationQueueSize,
	)
	mem.AttachQueue(augmentation)
	startWorker(ctx, &wg, "augmentation", augmentation.Run)
	startWorker(ctx, &wg, "alert-watcher",
		worker.NewAlertWatcher(db, hub, time.Duration(cfg.Worker.AlertPollInterval)).Run)
	startWorker(ctx, &wg, "retention",
		worker.NewRetentionWorker(mem, time.Duration(cfg.Worker.RetentionInterval), time.Duration(cfg.Worker.RetentionWindow)).Run)
	if embedder != nil {
		startWorker(ctx, &wg, "embedding-retry", worker.NewEmbeddingRetryWorker(
			db,
			embedder,
			time.Duration(cfg.Worker.EmbeddingRetryInterval),
			cfg.Worker.EmbeddingRetryMaxAttempts,
			cfg.Worker.EmbeddingRetryBatchSize,
			mem.Indexed,
		).Run)
	}

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 12a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 12b. End alert streams; WebSocket connections are hijacked, so
	// Shutdown does not wait for them
	handler.CloseStreams()

	// 12c. Wait for workers to complete
	wg.Wait()

	// 12d. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger. Format "text" selects the
// human-readable handler; anything else logs JSON.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
