package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/maildesk/backend/internal/api"
	"github.com/maildesk/backend/internal/config"
	"github.com/maildesk/backend/internal/mailbox"
	"github.com/maildesk/backend/internal/outbound"
	"github.com/maildesk/backend/internal/store"
	"github.com/maildesk/backend/internal/ticket"
	"github.com/maildesk/backend/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting maildesk backend", "environment", cfg.Environment)

	ctx := context.Background()
	pool, err := store.NewConnection(ctx, cfg.DatabaseURL())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.CloseConnection(pool)
	logger.Info("connected to database")

	st := store.New(pool)
	v := vault.New(cfg.VaultSecret)
	if !v.Enabled() {
		logger.Warn("no vault secret configured, credentials are stored in plaintext")
	}

	correlator := ticket.NewCorrelator(st, logger)
	registry := mailbox.NewRegistry(st, v, correlator, logger, mailbox.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		PollInterval:   cfg.IdlePollInterval,
	})
	dispatcher := outbound.NewDispatcher(st, v, logger)

	if err := registry.StartAll(ctx); err != nil {
		logger.Error("failed to start mailbox watchers", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: NewServer(st, v, registry, dispatcher, logger),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig.String())
		registry.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("http server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// NewServer creates the HTTP handler for the maildesk API.
func NewServer(st *store.Store, v *vault.Vault, registry *mailbox.Registry, dispatcher *outbound.Dispatcher, logger *slog.Logger) http.Handler {
	mailboxesHandler := api.NewMailboxesHandler(st, v, registry, logger)
	replyHandler := api.NewReplyHandler(st, dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.Handle("/api/v1/mailboxes", mailboxesHandler)
	mux.Handle("/api/v1/mailboxes/", mailboxesHandler)
	mux.Handle("/api/v1/tickets/", replyHandler)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Maildesk API is running")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
