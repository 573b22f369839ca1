// Command oprish runs the REST API.
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

	"github.com/eludris/eludris/internal/auth"
	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/db"
	"github.com/eludris/eludris/internal/email"
	"github.com/eludris/eludris/internal/httpapi"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "oprish").Logger()
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

	secret, err := auth.LoadSecret(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load instance secret")
	}

	var mailer email.Mailer
	if conf.Email != nil {
		mailer = email.NewSMTP(*conf.Email, env.TemplatesDir)
	}

	svc := service.New(pool, client, conf, ids.New(env.WorkerID), secret, mailer)

	cleanup := svc.StartCleanup()
	defer cleanup.Stop()

	srv := &httpapi.Server{Svc: svc, Limiter: ratelimit.New(client)}
	httpServer := &http.Server{
		Addr:         env.OprishAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", env.OprishAddr).Msg("starting oprish")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("oprish failed")
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

	log.Info().Msg("oprish stopped")
}
