package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tryon/internal/adapter/repo"
	"tryon/internal/executor"
	httpapi "tryon/internal/http"
	"tryon/internal/http/handlers"
	"tryon/internal/infra"
	"tryon/internal/infra/geoip"
	"tryon/internal/provider"
	"tryon/internal/resolver"
	"tryon/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		bootLogger := infra.NewLogger("production")
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("ensure schema")
	}

	jobs := repo.NewJobRepository(pool)
	results := repo.NewResultRepository(pool)
	refs := repo.NewReferenceRepository(pool)

	var blobs storage.BlobStore
	switch cfg.StorageBackend {
	case "s3":
		blobs, err = storage.NewS3Store(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3PublicBaseURL)
	default:
		blobs, err = storage.NewFileStore(cfg.StoragePath)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("init blob storage")
	}

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open geoip database")
	}
	if countries != nil {
		defer countries.Close()
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

	res := resolver.New(refs, resolver.Options{
		MaxImageBytes: cfg.MaxImageBytes,
		FetchTimeout:  cfg.FetchTimeout,
	})

	app := &handlers.App{
		Jobs:         jobs,
		Results:      results,
		Refs:         refs,
		Submitter:    executor.NewSubmitter(jobs, res, blobs, logger),
		Executor:     executor.New(jobs, results, registry, logger, 0),
		Logger:       logger,
		MaxBodyBytes: cfg.MaxImageBytes * 4,
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  countries.LookupFunc(),
		RateLimit:      cfg.RateLimitPerMin,
		Logger:         logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("provider", cfg.ImageProvider).Msg("api listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}
