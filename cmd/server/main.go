// Folio Chat - portfolio assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/folio-chat/internal/api"
	"github.com/ashureev/folio-chat/internal/assistant"
	"github.com/ashureev/folio-chat/internal/config"
	"github.com/ashureev/folio-chat/internal/middleware"
	"github.com/ashureev/folio-chat/internal/session"
	"github.com/ashureev/folio-chat/internal/store"
	"github.com/ashureev/folio-chat/web"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	processor, err := newProcessor(cfg)
	if err != nil {
		return err
	}
	slog.Info("Assistant backend ready", "backend", processor.Name())

	sessions := session.NewManager(repo, cfg.SessionTTL)
	svc := assistant.NewService(processor, sessions, cfg.Chat.HistoryLimit)

	// Initialize handlers.
	chatHandler := assistant.NewHandler(svc, assistant.HandlerConfig{
		RateLimitRequests:  cfg.Chat.RateLimitRequests,
		RateLimitWindow:    cfg.Chat.RateLimitWindow,
		MaxRequestBodySize: cfg.Chat.MaxRequestBodySize,
		AllowedOrigins:     originsOrNil(cfg.AllowedOrigins()),
	})
	defer chatHandler.Close()

	statusHandler := api.NewStatusHandler(repo, api.WidgetConfig{
		Backend:      processor.Name(),
		SiteBaseURL:  cfg.SiteBaseURL,
		HistoryLimit: cfg.Chat.HistoryLimit,
		SessionTTL:   cfg.SessionTTL.String(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	statusHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// Serve the embedded portfolio pages.
	r.Handle("/*", web.SiteHandler())

	// Streamed answers can outlive any fixed write deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.Chat.SweepInterval)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// newProcessor selects the model backend. Without an API key the server
// still runs and answers with a canned reply.
func newProcessor(cfg *config.Config) (assistant.Processor, error) {
	if cfg.Model.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, serving canned replies")
		return &assistant.CannedProcessor{Delay: 40 * time.Millisecond}, nil
	}

	prompt, err := assistant.LoadSystemPrompt(cfg.Model.KnowledgePath)
	if err != nil {
		return nil, err
	}
	return assistant.NewOpenAIProcessor(assistant.OpenAIConfig{
		APIKey:       cfg.Model.APIKey,
		BaseURL:      cfg.Model.BaseURL,
		Model:        cfg.Model.Name,
		SystemPrompt: prompt,
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
	}), nil
}

func originsOrNil(origins []string) []string {
	if len(origins) == 1 && origins[0] == "*" {
		return nil
	}
	return origins
}
