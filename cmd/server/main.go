package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pulsechat/relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "pulse-relay").Logger()

	cfg, err := server.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	server.SetConfig(cfg)

	if cfg.UpstreamURL == "" {
		logger.Warn().Msg("API_URL is not set; upstream presence notifications will fail and be logged")
	}

	notifier := server.NewHTTPNotifier(cfg.UpstreamURL, &http.Client{Timeout: cfg.UpstreamTimeout}, logger)
	hub := server.NewHub(notifier, logger)
	server.StartHub(hub)

	mux := server.SetupRoutes(hub, logger)
	httpServer := server.CreateServer(cfg.Port, mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.StartServer(httpServer); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}
		return hub.Shutdown(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}
	logger.Info().Msg("Server stopped")
}
