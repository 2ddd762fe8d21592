package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/config"
	httpserver "github.com/Clark-Hu/store-ratings/internal/http"
	"github.com/Clark-Hu/store-ratings/internal/logging"
	"github.com/Clark-Hu/store-ratings/internal/metrics"
	"github.com/Clark-Hu/store-ratings/internal/migrations"
	"github.com/Clark-Hu/store-ratings/internal/repository"
	"github.com/Clark-Hu/store-ratings/internal/service"
	"github.com/Clark-Hu/store-ratings/internal/store"
	"github.com/Clark-Hu/store-ratings/internal/validation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("service", "store-ratings")

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		TxTimeout:              time.Duration(cfg.DBTxTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		logger.WithError(err).Fatal("connect database")
	}
	defer st.Close()

	if err := metrics.RegisterPoolStats(st.PoolStats); err != nil {
		logger.WithError(err).Warn("pool metrics unavailable")
	}

	sqlDB := st.SQLDB()
	err = migrations.Apply(dbCtx, sqlDB, logger)
	_ = sqlDB.Close()
	if err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}

	repo := repository.New(st)
	validator := validation.New()
	hasher := auth.NewHasher(cfg.BcryptCost, cfg.HashWorkers)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL, nil)

	authSvc := service.NewAuthService(repo.Users, repo, hasher, tokens, validator, logger)
	if _, err := authSvc.SeedAdmin(dbCtx, cfg.Admin); err != nil {
		logger.WithError(err).Fatal("seed admin")
	}

	server := httpserver.New(cfg, st, httpserver.Services{
		Auth:      authSvc,
		Ratings:   service.NewRatingService(repo.Ratings, logger),
		Directory: service.NewDirectoryService(repo.Users, repo.Stores, repo.Ratings, validator, logger),
	}, tokens, validator, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("graceful shutdown error")
	}
	logger.Info("server stopped")
}
