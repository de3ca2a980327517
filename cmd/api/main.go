// Package main is the entry point for the story ranking API server.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bazaarlive/storyrank/internal/api"
	"github.com/bazaarlive/storyrank/internal/auth"
	"github.com/bazaarlive/storyrank/internal/candidate"
	"github.com/bazaarlive/storyrank/internal/config"
	"github.com/bazaarlive/storyrank/internal/db"
	"github.com/bazaarlive/storyrank/internal/feed"
	"github.com/bazaarlive/storyrank/internal/health"
	"github.com/bazaarlive/storyrank/internal/jobs"
	"github.com/bazaarlive/storyrank/internal/middleware"
	"github.com/bazaarlive/storyrank/internal/rankcache"
	"github.com/bazaarlive/storyrank/internal/ranking"
	"github.com/bazaarlive/storyrank/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Story Ranking API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Tracing
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "storyrank-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	feedMetrics := feed.NewMetrics()
	if err := feedMetrics.Register(registry); err != nil {
		logger.Error("failed to register feed metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Candidate source: Postgres when configured, in-memory otherwise.
	var source candidate.Source
	var pgSource *candidate.PostgresSource
	var pool *sql.DB
	if cfg.DatabaseURL != "" {
		openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err = db.Open(openCtx, cfg.DatabaseURL)
		cancelOpen()
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pgSource = candidate.NewPostgresSource(pool, logger)
		source = pgSource
	} else {
		logger.Warn("no database configured, serving from an empty in-memory source")
		source = candidate.NewStaticSource(nil)
	}

	// Result cache: Redis when configured, in-process sharded map otherwise.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	var cache rankcache.Store
	var memCache *rankcache.MemoryStore
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		cache = rankcache.NewRedisStore(redisClient, cacheTTL, logger)
	} else {
		memCache = rankcache.NewMemoryStore(cacheTTL)
		cache = memCache
	}

	// Scoring parameters: environment values form the base, calibration file
	// overrides win when present.
	params := &ranking.Params{
		ExplorationConstant: cfg.ExplorationConstant,
		PriorCTR:            cfg.PriorCTR,
		CommissionWeight:    cfg.CommissionWeight,
		FreshnessWeight:     cfg.FreshnessWeight,
		FreshnessHorizon:    time.Duration(cfg.FreshnessHorizonHours) * time.Hour,
	}
	if cfg.CalibrationFile != "" {
		data, err := os.ReadFile(cfg.CalibrationFile)
		if err != nil {
			logger.Warn("failed to read calibration file, using configured parameters",
				"path", cfg.CalibrationFile, "error", err)
		} else {
			var calibration ranking.CalibrationConfig
			if err := json.Unmarshal(data, &calibration); err != nil {
				logger.Warn("failed to parse calibration file, using configured parameters",
					"path", cfg.CalibrationFile, "error", err)
			} else {
				params = ranking.MergeCalibration(params, &calibration)
				logger.Info("applied calibration file", "path", cfg.CalibrationFile)
			}
		}
	}

	service := feed.NewService(source, cache, params, feed.Config{
		MaxCandidates:       cfg.MaxCandidates,
		CacheTTL:            cacheTTL,
		FetchTimeout:        time.Duration(cfg.FetchTimeoutMillis) * time.Millisecond,
		RankerEnabled:       cfg.RankerEnabled,
		CanaryFraction:      cfg.CanaryFraction,
		MinExposureFraction: cfg.MinExposureFraction,
	}, logger, feedMetrics)

	// Handlers
	rankHandlers := api.NewRankHandlers(service, logger)

	healthConfig := api.HealthHandlersConfig{}
	if pool != nil {
		healthConfig.DBChecker = health.NewDBChecker(pool)
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Optional JWT verification for resolving the caller identity.
	var jwtService *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rank", rankHandlers.Rank)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/health/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"storyrank-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Rate limiting: per-user when authenticated, per-IP otherwise.
	rateLimitStore := middleware.NewInMemoryRateLimitStore()
	rateLimit := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitPerMinute,
		WindowDuration:    time.Minute,
	}

	// Middleware chain. Logging sits closest to the handlers so error codes
	// set via UpdateResponseContext reach the access log.
	var handler http.Handler = mux
	handler = middleware.RateLimiter(rateLimitStore, rateLimit, middleware.UserKeyFunc())(handler)
	handler = auth.Optional(jwtService)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("storyrank-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic janitor for in-process state.
	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				rateLimitStore.Cleanup()
				jobMetrics.IncJobsTotal(jobs.JobTypeRateLimitCleanup, jobs.StatusSuccess)
				jobMetrics.ObserveJobDuration(jobs.JobTypeRateLimitCleanup, time.Since(start).Seconds())
				if memCache != nil {
					start = time.Now()
					if removed := memCache.Cleanup(); removed > 0 {
						logger.Debug("evicted stale cache entries", "count", removed)
					}
					jobMetrics.IncJobsTotal(jobs.JobTypeCacheCleanup, jobs.StatusSuccess)
					jobMetrics.ObserveJobDuration(jobs.JobTypeCacheCleanup, time.Since(start).Seconds())
				}
				if pgSource != nil {
					pgSource.Stats().LogSummary(logger, "postgres")
					jobMetrics.IncJobsTotal(jobs.JobTypeStatsReport, jobs.StatusSuccess)
				}
			}
		}
	}()

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancelJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracingProvider.Shutdown(ctx); err != nil {
		logger.Warn("failed to shut down tracer provider", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
	if pool != nil {
		if err := pool.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}

	logger.Info("server stopped")
}
