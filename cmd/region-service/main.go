package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"region-service/internal/config"
	"region-service/internal/db"
	"region-service/internal/geocode"
	httphandler "region-service/internal/http"
	"region-service/internal/logger"
	"region-service/internal/repository"
	"region-service/internal/service"
	"region-service/internal/spatial"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer func() {
		if err := db.Close(database); err != nil {
			appLogger.Error().Err(err).Msg("failed to close database")
		}
	}()

	index := spatial.New(cfg.Index.CellSizeDeg)
	regionRepo := repository.NewRegionRepository(database, index, appLogger)
	if err := regionRepo.Load(ctx); err != nil {
		appLogger.Fatal().Err(err).Msg("failed to load regions")
	}

	var geocoder geocode.Geocoder = geocode.NewNominatimClient(cfg)
	redisClient, err := db.NewRedis(ctx, cfg.Redis)
	if err != nil {
		appLogger.Warn().Err(err).Msg("geocode cache disabled")
	} else if redisClient != nil {
		defer redisClient.Close()
		geocoder = geocode.NewCache(geocoder, redisClient, cfg.Geocoder.CacheTTL, appLogger)
		appLogger.Info().Str("addr", cfg.Redis.Addr).Msg("geocode cache enabled")
	}

	regionService := service.NewRegionService(regionRepo, geocoder, service.Options{
		CountryHint:    cfg.Geocoder.CountryCode,
		GeocodeTimeout: cfg.Geocoder.Timeout,
	}, appLogger)

	handler := httphandler.NewHandler(regionService, appLogger)
	router := httphandler.NewRouter(handler, appLogger, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().Str("addr", addr).Int("regions", regionRepo.Count()).Msg("starting region service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			appLogger.Error().Err(err).Msg("failed to start server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
