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
	"github.com/spf13/pflag"

	"github.com/comigor/parley/internal/archive"
	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
	"github.com/comigor/parley/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.L.Debug("no .env file loaded", "error", err)
	}

	flags := pflag.NewFlagSet("parley", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.String("host", "", "listen host")
	flags.String("port", "", "listen port")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	// A missing credential is fatal to startup.
	if err := llm.NewOpenAI(cfg.LLM).Configure(""); err != nil {
		logger.L.Error("LLM gateway not configured", "error", err)
		os.Exit(1)
	}

	var recorder chat.Recorder
	if cfg.History.ArchivePath != "" {
		store, err := archive.Open(cfg.History.ArchivePath)
		if err != nil {
			logger.L.Error("failed to open archive", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		recorder = store
	}

	sessions := web.NewSessions(func(id string) *chat.Session {
		opts := chat.OptionsFromConfig(cfg.Session)
		opts.ID = id
		opts.Recorder = recorder
		sess := chat.New(llm.NewOpenAI(cfg.LLM), opts)
		if err := sess.Configure(""); err != nil {
			logger.L.Error("failed to configure session", "session", id, "error", err)
		}
		logger.L.Info("session created", "session", id)
		return sess
	}, web.WithIdleTimeout(cfg.Server.SessionIdleTimeout), web.WithMaxSessions(cfg.Server.MaxSessions))

	router := web.NewRouter(web.New(sessions))

	// Start server
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.L.Info("starting server", "address", srv.Addr, "model", cfg.LLM.Model)
	if err := runServer(ctx, srv); err != nil {
		logger.L.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
