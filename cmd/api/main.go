package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"genbot/internal/bootstrap"
	"genbot/internal/http/handlers"
	httpapi "genbot/internal/http/httpapi"
	"genbot/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stores")
	}
	defer rt.Close()

	gw, err := rt.Gateway()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider gateway")
	}
	eng, err := rt.Engine(gw)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	app := handlers.NewApp(eng, rt.Ledger, rt.Catalog, rt.History, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          &logger,
		AdminToken:      cfg.AdminToken,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		RateLimitBurst:  cfg.RateLimitBurst,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("provider", gw.Name()).Msg("API listening")
		return server.Start()
	})
	g.Go(func() error {
		return eng.RunRecovery(gctx, cfg.RecoveryInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
		// Remaining jobs are finalized as cancelled and any holds refunded.
		if err := eng.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("engine did not drain before the grace period")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		rt.Close()
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
