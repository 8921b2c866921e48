// Package app wires the notebook service together for the notebookd binary.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/danmuck/notebookd/internal/config"
	"github.com/danmuck/notebookd/internal/executor"
	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/danmuck/notebookd/internal/server"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("app: invalid config")

// Service runs the HTTP API and owns the kernel session.
type Service struct {
	cfg    config.Config
	store  *notebook.Store
	exec   *executor.Executor
	server *server.Server
}

func NewService(cfg config.Config) (*Service, error) {
	return NewServiceWithConnector(cfg, kernel.NewClient(cfg.Jupyter.KernelConfig()))
}

// NewServiceWithConnector builds the service around an explicit kernel connector.
func NewServiceWithConnector(cfg config.Config, connector kernel.Connector) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	store := notebook.NewStore()
	exec := executor.New(store, connector)
	srv := server.New(cfg.Name, cfg.Addr, cfg.CorsOrigins, store, exec)
	srv.RequireToken(cfg.APIToken)
	return &Service{
		cfg:    cfg,
		store:  store,
		exec:   exec,
		server: srv,
	}, nil
}

func (s *Service) Store() *notebook.Store {
	return s.store
}

func (s *Service) Executor() *executor.Executor {
	return s.exec
}

func (s *Service) Server() *server.Server {
	return s.server
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve connects the kernel (when configured) and serves until ctx ends. A failed
// boot connection is not fatal; it stays visible on /kernel and can be retried.
func (s *Service) Serve(ctx context.Context) error {
	defer func() {
		if err := s.exec.Close(); err != nil {
			log.Warn().Err(err).Msg("app.Service.Serve kernel close")
		}
	}()

	if s.cfg.ConnectOnBoot {
		if err := s.exec.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("app.Service.Serve boot connect failed; retry via POST /kernel/connect")
		}
	}

	log.Info().
		Str("service", s.cfg.Name).
		Str("addr", s.cfg.Addr).
		Str("jupyter", s.cfg.Jupyter.URL).
		Str("kernel", string(s.store.Connection().Status)).
		Bool("auth", s.cfg.APIToken != "").
		Msg("app.Service.Serve ready")
	return s.server.Serve(ctx)
}
