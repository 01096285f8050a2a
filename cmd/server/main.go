package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auraline/readings/internal/adapter/driven/journal/sqlite"
	persistence "github.com/auraline/readings/internal/adapter/driven/persistence/memory"
	"github.com/auraline/readings/internal/adapter/driven/persistence/postgres"
	"github.com/auraline/readings/internal/adapter/driven/wallet"
	handler "github.com/auraline/readings/internal/adapter/driving/http"
	"github.com/auraline/readings/internal/config"
	"github.com/auraline/readings/internal/core/port"
	"github.com/auraline/readings/internal/core/service"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	zlog.Logger = l

	cfg, err := config.Load()
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	ledger, err := wallet.New(wallet.DriverType(cfg.WalletDriver), cfg.RedisAddr)
	if err != nil {
		l.Fatal().Err(err).Str("driver", cfg.WalletDriver).Msg("Failed to open wallet ledger")
	}

	ctx := context.Background()

	var store port.SettlementStore
	switch cfg.SettlementDriver {
	case "postgres":
		store, err = postgres.NewSettlementRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to open settlement store")
		}
	default:
		store = persistence.NewSettlementRepository()
	}
	defer store.Close()

	var journal port.SessionJournal
	if cfg.JournalPath != "" {
		journal, err = sqlite.Open(cfg.JournalPath)
		if err != nil {
			l.Fatal().Err(err).Str("path", cfg.JournalPath).Msg("Failed to open session journal")
		}
		defer journal.Close()
	}

	presence := service.NewPresence()
	settler := service.NewSettlement(ledger, store, presence, cfg.WalletTimeout)
	sessions := service.NewSessions(presence, ledger, settler, journal, cfg.WalletTimeout)
	billing := service.NewBilling(cfg.BillingInterval, sessions)
	sessions.AttachBilling(billing)
	presence.AttachTerminator(sessions)

	if err := sessions.Recover(ctx); err != nil {
		l.Fatal().Err(err).Msg("Failed to recover session journal")
	}

	relay := service.NewRelay(sessions, presence)
	h := handler.NewHandler(sessions, relay, presence, cfg.JWTSecret, cfg.DefaultRatePerMinuteCents)

	go billing.Run()

	srv := &http.Server{
		Addr:    cfg.Bind,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("bind", cfg.Bind).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	billing.Stop()
	l.Info().Msg("Server exited")
}
