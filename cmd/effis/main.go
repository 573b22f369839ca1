// Command effis runs the file service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/db"
	"github.com/eludris/eludris/internal/files"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "effis").Logger()
	if os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid environment")
	}
	conf, err := config.Load(env.ConfPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", env.ConfPath).Msg("failed to load configuration")
	}

	ctx := context.Background()

	pool, err := db.Open(ctx, env.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	client, err := cache.Open(ctx, env.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer client.Close()

	store, err := files.NewStore(pool, ids.New(env.WorkerID), env.FilesRoot)
	if err != nil {
		log.Fatal().Err(err).Str("root", env.FilesRoot).Msg("failed to prepare file storage")
	}

	srv := &files.Server{Store: store, Limiter: ratelimit.New(client), Conf: conf}
	httpServer := &http.Server{
		Addr:         env.EffisAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", env.EffisAddr).Msg("starting effis")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("effis failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("effis stopped")
}
