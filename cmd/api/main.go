package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"snuwiki/api/internal/account"
	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/app"
	"snuwiki/api/internal/config"
	"snuwiki/api/internal/store"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	evaluator := acl.NewEvaluator(dataStore)
	accounts := account.NewService(dataStore, dataStore)
	service := app.NewService(dataStore, evaluator)

	httpServer := app.NewHTTPServer(service, accounts, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("wiki API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
