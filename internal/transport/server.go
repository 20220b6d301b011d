package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/n6x/watchdog/internal/conn"
	"github.com/n6x/watchdog/internal/logger"
	"go.uber.org/zap"
)

const SHUTDOWN_TIMEOUT = 5 * time.Second

// Handler returns the HTTP handler serving the peer endpoints.
func (t *Transport) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(logger.Middleware(t.logger))
	router.Handle("/peer", conn.Middleware()(t.handlePeer()))
	router.HandleFunc("/ping", t.ping()).Methods(http.MethodGet)
	router.HandleFunc("/version", t.handleVersion()).Methods(http.MethodGet)
	if t.metricsHandler != nil {
		router.Handle("/metrics", t.metricsHandler).Methods(http.MethodGet)
	}
	return router
}

// ListenAndServe serves Handler on addr until ctx is cancelled, then shuts the
// server down gracefully.
func (t *Transport) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return t.Serve(ctx, l)
}

// Serve is ListenAndServe on an existing listener.
func (t *Transport) Serve(ctx context.Context, l net.Listener) error {
	stdLoggerWrapper, _ := zap.NewStdLogAt(t.logger, zap.ErrorLevel)
	httpServer := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdLoggerWrapper,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errC := make(chan error, 1)
	go func() {
		errC <- httpServer.Serve(l)
	}()

	t.logger.
		With(zap.String("version", t.version.String())).
		With(zap.String("address", l.Addr().String())).
		With(zap.Stringer("id", t.self)).
		Info("serving peer transport")

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving peer transport: %w", err)
	case <-ctx.Done():
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("shutting down peer transport: %w", err)
	}
	t.logger.Info("peer transport shutdown successfully")
	return nil
}
