package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-planner/internal/ai"
	"github.com/p-n-ai/pai-planner/internal/content"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/gamification"
	"github.com/p-n-ai/pai-planner/internal/plan"
	"github.com/p-n-ai/pai-planner/internal/planner"
	"github.com/p-n-ai/pai-planner/internal/platform/cache"
	"github.com/p-n-ai/pai-planner/internal/platform/config"
	"github.com/p-n-ai/pai-planner/internal/platform/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	checks := make(map[string]func(context.Context) error)

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks["database"] = db.HealthCheck
	}

	var (
		locker      cache.Locker = cache.NewLocalLocker()
		leaderboard *cache.Leaderboard
	)
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return err
		}
		defer c.Close()
		checks["cache"] = c.HealthCheck
		locker = cache.NewRedisLocker(c)
		leaderboard = cache.NewLeaderboard(c)
		slog.Info("cache connected", "url", cfg.Cache.URL)
	}

	loader, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		return fmt.Errorf("loading curriculum: %w", err)
	}
	slog.Info("curriculum loaded", "path", cfg.CurriculumPath, "grades", loader.Grades())

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	var publisher events.Publisher = bus
	if db != nil {
		publisher = events.Fanout{bus, events.NewPostgres(db.Pool)}
	}

	loc := cfg.Location()
	engineOpts := []gamification.Option{
		gamification.WithXPPerLevel(cfg.Planner.XPPerLevel),
		gamification.WithLocation(loc),
		gamification.WithPublisher(publisher),
	}
	a := &api{bus: bus, checks: checks}
	if leaderboard != nil {
		engineOpts = append(engineOpts, gamification.WithLeaderboard(leaderboard))
		a.leaderboard = leaderboard
	}

	svc, err := planner.NewService(planner.Deps{
		Store:      store,
		Curriculum: loader,
		Assembler:  plan.NewAssembler(gen),
		Engine:     gamification.NewEngine(store, engineOpts...),
		Locker:     locker,
		Publisher:  publisher,
	}, planner.Settings{
		HorizonDays:       cfg.Planner.HorizonDays,
		TopicsPerSubject:  cfg.Planner.TopicsPerSubject,
		MaxShortlist:      cfg.Planner.MaxShortlist,
		GenerationTimeout: cfg.Planner.GenerationTimeout,
		LockTTL:           cfg.Planner.LockTTL,
		Location:          loc,
	})
	if err != nil {
		return err
	}
	a.svc = svc
	a.queue = planner.NewQueue(store, svc, planner.QueueConfig{
		Interval:   cfg.Planner.QueueInterval,
		Batch:      cfg.Planner.QueueBatch,
		MaxRetries: cfg.Planner.QueueMaxRetries,
		StaleAfter: cfg.Planner.QueueStaleAfter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newMux(a),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Driver, "ai", cfg.HasAIProvider())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.queue.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// openStore returns the configured document store. db is nil for the
// in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Gateway, *database.DB, error) {
	if cfg.Store.Driver != "postgres" {
		slog.Warn("using in-memory store; data is lost on restart")
		return docstore.NewMemoryStore(), nil, nil
	}

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	store, err := docstore.NewPostgresStore(db.Pool)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("database connected")
	return store, db, nil
}

// newGenerator builds the content generator from the configured AI
// providers, or the template generator when none is set.
func newGenerator(cfg *config.Config) (content.Generator, error) {
	if !cfg.HasAIProvider() {
		slog.Warn("no AI provider configured; task content comes from templates")
		return content.Template{}, nil
	}

	httpClient := &http.Client{Timeout: cfg.Planner.GenerationTimeout}
	opts := []ai.OpenAIOption{ai.WithHTTPClient(httpClient)}

	router := ai.NewRouter()
	if cfg.AI.OpenAI.APIKey != "" {
		router.Register("openai", ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, opts...))
	}
	if cfg.AI.DeepSeek.APIKey != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(cfg.AI.DeepSeek.APIKey, opts...))
	}
	if cfg.AI.OpenRouter.APIKey != "" {
		router.Register("openrouter", ai.NewOpenRouterProvider(cfg.AI.OpenRouter.APIKey, opts...))
	}
	if cfg.AI.Ollama.Enabled {
		router.Register("ollama", ai.NewOllamaProvider(cfg.AI.Ollama.URL, opts...))
	}

	var clientOpts []content.ClientOption
	if cfg.AI.Model != "" {
		clientOpts = append(clientOpts, content.WithModel(cfg.AI.Model))
	}
	return content.NewClient(router, clientOpts...)
}
