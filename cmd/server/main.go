package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/live-chess-backend/internal/archive"
	"github.com/DoyleJ11/live-chess-backend/internal/config"
	"github.com/DoyleJ11/live-chess-backend/internal/httpapi"
	"github.com/DoyleJ11/live-chess-backend/internal/hub"
	"github.com/DoyleJ11/live-chess-backend/internal/logging"
	"github.com/DoyleJ11/live-chess-backend/internal/match"
	"github.com/DoyleJ11/live-chess-backend/internal/rules"
	"github.com/DoyleJ11/live-chess-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadDotenv()
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	var store archive.Store = archive.Nop{}
	if cfg.DatabaseURL != "" {
		gs, err := archive.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		store = gs
		log.Info("archiving finished games to postgres")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oracle := rules.NewChess()
	h := hub.NewHub(ctx, func(ctx context.Context, id string, onClose func(*match.Match)) *match.Match {
		return match.New(ctx, id, match.Config{
			Oracle:  oracle,
			Archive: store,
			Logger:  log,
			IdleTTL: cfg.SessionIdleTTL,
			OnClose: onClose,
		})
	}, hub.WithLogger(log))

	wsHandler := ws.NewHandler(h, log, ws.Options{
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		OutboxSize:     cfg.OutboxSize,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, wsHandler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// Stopping the hub closes every peer, which ends the hijacked connections.
		h.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
