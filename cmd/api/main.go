package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"promptcraft/internal/http/handlers"
	httpapi "promptcraft/internal/http/httpapi"
	"promptcraft/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer svc.close()

	app := handlers.NewApp(svc.sessions, svc.tokens, cfg.TokenBudget, svc.store, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   svc.geo.Lookup(),
		ImagesDir:       svc.store.BasePath(),
		Logger:          &logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		return svc.sessions.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: stopped with error")
		return
	}
	logger.Info().Msg("api: stopped")
}
