package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/benjamin-med/medgate/internal/access"
	"github.com/benjamin-med/medgate/internal/audit"
	"github.com/benjamin-med/medgate/internal/auth"
	"github.com/benjamin-med/medgate/internal/backend"
	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/gateway"
	"github.com/benjamin-med/medgate/internal/ratelimit"
	"github.com/benjamin-med/medgate/internal/route"
	"github.com/benjamin-med/medgate/internal/shaper"
	"github.com/benjamin-med/medgate/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Bootstrap logger until the configured one is known.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	loader := config.NewLoader(*configDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.TraceSampleRate)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to PostgreSQL
	var dbPool *pgxpool.Pool
	if cfg.Database.Enabled {
		dbPool, err = pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (roles fall back to token claims, audit writes fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (refresh dedup is in-process only, rate limits disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics(nil)
	health := backend.NewHealthTracker(cfg.Resilience.FailureThreshold, cfg.Resilience.RecoveryProbeInterval)

	ups := loader.Upstreams()
	authClient := backend.NewClient("auth_service", ups.AuthService, health, telemetry.InstrumentTransport)
	inference := backend.NewClient("inference_backend", ups.InferenceBackend, health, telemetry.InstrumentTransport)
	frontendURL, err := url.Parse(ups.Frontend.BaseURL)
	if err != nil {
		logger.Error("invalid frontend base url", "error", err)
		os.Exit(1)
	}

	sessionCfg := func() config.SessionConfig { return loader.Config().Session }
	authService := auth.NewAuthService(authClient)
	var tokens auth.TokenVerifier
	if cfg.Session.JWTSecret != "" {
		tokens = auth.NewJWTVerifier(cfg.Session.JWTSecret, cfg.Session.Issuer, cfg.Session.Audience)
	} else {
		logger.Info("no jwt secret configured, verifying sessions against the auth service")
		tokens = auth.NewRemoteVerifier(authService)
	}
	refresher := auth.NewDedupRefresher(authService, rdb, func() time.Duration {
		return loader.Config().Session.RefreshCacheTTL
	})
	verifier := auth.NewVerifier(tokens, refresher, sessionCfg)

	policy := access.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
	if cfg.Policy.Enabled {
		if err := policy.Load(); err != nil {
			logger.Error("failed to load access policies", "error", err)
			os.Exit(1)
		}
	}
	var roles access.RoleLookup
	if dbPool != nil {
		roles = auth.NewProfileStore(dbPool, rdb, cfg.Session.ProfileCacheTTL)
	}
	engine := access.NewEngine(loader.Routes, policy, roles, func() bool {
		return loader.Config().Policy.FailOpen
	})

	recorder := audit.NewRecorder(nil)
	if dbPool != nil {
		recorder = audit.NewRecorder(dbPool)
	}

	classifier := route.NewLive(route.NewClassifier(loader.Routes()))
	loader.OnReload(func() {
		classifier.Store(route.NewClassifier(loader.Routes()))
		logger.Info("route table reloaded", "api_routes", len(loader.Routes().APIRoutes))
		health.ResetAll()
		if loader.Config().Policy.Enabled {
			if err := policy.Load(); err != nil {
				logger.Error("failed to reload access policies, keeping previous", "error", err)
			}
		}
	})

	handler := gateway.NewHandler(gateway.Deps{
		Routes:   classifier,
		Session:  sessionCfg,
		Verifier: verifier,
		Engine:   engine,
		Shaper: shaper.New(inference.URL, func() config.UploadsConfig {
			return loader.Config().Uploads
		}),
		Backend:  inference,
		Frontend: gateway.NewFrontendProxy(frontendURL, telemetry.InstrumentTransport(nil)),
		Limiter: ratelimit.NewGuard(ratelimit.NewLimiter(rdb), func() config.RateLimitConfig {
			return loader.Config().RateLimit
		}, metrics),
		Metrics: metrics,
		Audit:   recorder,
		StreamWindow: func() time.Duration {
			return loader.Config().Server.StreamWriteTimeout
		},
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(gateway.CORS(func() config.CORSConfig { return loader.Config().CORS }))
	r.Use(telemetry.HTTPMiddleware(cfg.Telemetry.ServiceName))

	r.Get("/medgate/health", healthHandler(health))
	r.Handle("/*", handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler: promhttp.Handler(),
	}

	// Graceful shutdown
	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics server starting", "addr", metricsSrv.Addr)
		errCh <- metricsSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	metricsSrv.Shutdown(shutdownCtx)
	recorder.Wait(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("trace flush failed", "error", err)
	}
	logger.Info("gateway stopped")
}

func healthHandler(health *backend.HealthTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"version":   version,
			"upstreams": health.Snapshot(),
		})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
