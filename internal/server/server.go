// Package server exposes the notebook to the presentation layer over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/notebookd/internal/auth"
	"github.com/danmuck/notebookd/internal/executor"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/danmuck/notebookd/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	store  *notebook.Store
	exec   *executor.Executor
	router *gin.Engine
	// runCtx bounds background executions started through the API.
	runCtx context.Context
	auth   auth.Validator
}

func New(name, addr string, corsOrigins []string, store *notebook.Store, exec *executor.Executor) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		store:    store,
		exec:     exec,
		router:   r,
		runCtx:   context.Background(),
	}
	s.RegisterRoutes()
	return s
}

// RequireToken guards the cell and kernel routes with a shared token. An empty
// token leaves the API open.
func (s *Server) RequireToken(token string) {
	if strings.TrimSpace(token) == "" {
		s.auth = nil
		return
	}
	s.auth = auth.StaticToken{Token: token}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx ends, then shuts down and waits for running
// executions.
func (s *Server) Serve(ctx context.Context) error {
	s.runCtx = ctx
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("service", s.Name).Msg("server.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.exec.Wait()
	log.Info().Str("service", s.Name).Msg("server.Serve stopped")
	return err
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
