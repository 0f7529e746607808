package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tryon/internal/adapter/repo"
	"tryon/internal/domain"
	"tryon/internal/executor"
	"tryon/internal/infra"
	"tryon/internal/provider"
)

const jobPollInterval = 2 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		bootLogger := infra.NewLogger("production")
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("ensure schema")
	}

	registry, err := provider.NewRegistry(cfg.ImageProvider,
		provider.NewGoogle(provider.GoogleOptions{
			APIKey:  cfg.GoogleAIAPIKey,
			BaseURL: cfg.GoogleAIBaseURL,
			Model:   cfg.GoogleAIModel,
		}),
		provider.NewOpenRouter(provider.OpenRouterOptions{
			APIKey:  cfg.OpenRouterAPIKey,
			BaseURL: cfg.OpenRouterBaseURL,
			Model:   cfg.OpenRouterImageModel,
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("init provider registry")
	}

	jobs := repo.NewJobRepository(pool)
	results := repo.NewResultRepository(pool)
	exec := executor.New(jobs, results, registry, logger, 0)

	logger.Info().Str("provider", cfg.ImageProvider).Msg("worker started")

	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			drain(ctx, exec, logger)
		}
	}
}

// drain runs queued jobs until the queue is empty or the context ends.
func drain(ctx context.Context, exec *executor.Executor, logger infra.Logger) {
	for ctx.Err() == nil {
		outcome, err := exec.RunNext(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("run queued job")
			return
		}
		logger.Info().
			Str("job_id", outcome.Job.ID).
			Str("status", string(outcome.Job.Status)).
			Int("images", countImages(outcome.Results)).
			Msg("job processed")
	}
}

func countImages(results *domain.Results) int {
	if results == nil {
		return 0
	}
	n := 0
	for _, img := range results.Images {
		if img != nil {
			n++
		}
	}
	return n
}
