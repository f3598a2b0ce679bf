// Package server encapsula el http.Server con shutdown graceful.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentauth/consentd/internal/observability/logger"
)

// Server envuelve http.Server con timeouts sanos y shutdown ordenado.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

type Options struct {
	Addr            string
	Handler         http.Handler
	ReadTimeout     time.Duration // default 10s
	WriteTimeout    time.Duration // default 15s
	IdleTimeout     time.Duration // default 60s
	ShutdownTimeout time.Duration // default 10s
}

func New(opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      opts.Handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Run levanta el listener y bloquea hasta que ctx se cancele o el
// listener falle. Al cancelarse, drena conexiones activas con timeout.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", logger.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		log.Info("shutting down", logger.Duration(s.shutdownTimeout))
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			// Si el drain no llega, cortamos igual.
			_ = s.httpServer.Close()
			return err
		}
		return nil
	})

	return g.Wait()
}
