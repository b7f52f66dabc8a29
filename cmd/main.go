package main

import (
	"context"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"token-keeper/config"
	"token-keeper/internal/handler"
	"token-keeper/internal/metrics"
	"token-keeper/internal/migrations"
	"token-keeper/internal/ports"
	"token-keeper/internal/repository"
	"token-keeper/internal/security"
	"token-keeper/internal/service"
	"token-keeper/internal/util"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		util.NewZapLogger("info").Fatalw("failed to load configuration", "error", err)
	}

	log := util.NewZapLogger(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	db, err := config.SetupDatabase(cfg.DatabaseConfig.DSN)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorw("failed to close database", "error", err)
		}
	}()

	if err := migrations.RunMigrations(db.DB.DB, log); err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	}

	var cache ports.BlacklistCache
	clock := util.SystemClock{}
	if cfg.Blacklist.CacheEnabled {
		redisClient, err := config.SetupRedis(&cfg.RedisConfig)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Errorw("failed to close redis", "error", err)
			}
		}()
		cache = repository.NewBlacklistCacheRepository(redisClient, clock, log)
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	refreshRepo := repository.NewRefreshTokenRepository(db, clock, log)
	blacklistRepo := repository.NewTokenBlacklistRepository(db, cache, cfg.Blacklist, clock, recorder, log)

	keys, err := security.NewKeyProvider(cfg.JWT.SecretKey, cfg.JWT.Algorithm)
	if err != nil {
		log.Fatalw("invalid signing key configuration", "error", err)
	}
	jwtService := security.NewJWTService(&cfg.JWT, keys, blacklistRepo, clock, log)

	tokenService := service.NewTokenService(jwtService, refreshRepo, blacklistRepo, recorder, log, cfg.Sessions.MaxActivePerUser)
	maintenance := service.NewMaintenanceService(refreshRepo, blacklistRepo, cfg.Retention, clock, recorder, log)
	go maintenance.Run(ctx, cfg.Retention.Interval())

	authHandler := handler.NewAuthenticationHandler(tokenService, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Mount("/api/auth", authHandler.Routes(tokenService))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			util.HandleError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	runServer(ctx, config.SetupServer(cfg.ServerAddr, router), log)
}

func runServer(ctx context.Context, server *http.Server, log *zap.SugaredLogger) {
	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("server started", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	case sig := <-signalChannel:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutDownCancel()

	if err := server.Shutdown(shutDownCtx); err != nil {
		log.Errorw("failed to stop server", "error", err)
	} else {
		log.Infow("server stopped")
	}
}
