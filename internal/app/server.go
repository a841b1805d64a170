package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/api"
	"github.com/zoravur/pglive/internal/config"
	"github.com/zoravur/pglive/internal/reactive"
	"github.com/zoravur/pglive/internal/store"
)

type Server struct {
	cfg        config.Config
	httpServer *http.Server
	Registry   *reactive.Registry
	DB         *sql.DB
	log        *zap.Logger
}

// Open connects to the configured database and builds a registry over it.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*sql.DB, *reactive.Registry, error) {
	db, err := store.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, store.WithLogger(log.Named("store")))
	reg := reactive.NewRegistry(st, reactive.WithLogger(log.Named("registry")))
	return db, reg, nil
}

func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	db, reg, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	engine := api.NewEngine(reg, log.Named("engine"))
	mux := api.SetupRoutes(engine, cfg.ClientBuffer)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: mux,
		},
		Registry: reg,
		DB:       db,
		log:      log,
	}, nil
}

// Run serves until SIGINT, SIGTERM or ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	defer s.DB.Close()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		s.log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.log.Info("shutting down", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
