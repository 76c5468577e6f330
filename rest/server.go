// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Server binds the handler to a listener and manages its lifecycle.
type Server struct {
	log      *zap.Logger
	server   http.Server
	listener net.Listener
}

// NewServer opens the configured listen address and mounts the handler
// under the service prefix.
func NewServer(log *zap.Logger, config hatrac.Config, handler *Handler) (*Server, error) {
	listener, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	router := mux.NewRouter()
	router.PathPrefix(config.ServicePrefix).Handler(handler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.writeError(w, r, hatrac.NewNotFound("no resource outside the %s prefix", config.ServicePrefix))
	})

	return &Server{
		log:      log,
		server:   http.Server{Handler: router},
		listener: listener,
	}, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run serves requests until the context is canceled, then drains with a
// shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return Error.Wrap(s.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		s.log.Info("server started", zap.String("addr", s.Addr()))
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close immediately releases the listener.
func (s *Server) Close() error {
	return Error.Wrap(s.server.Close())
}
