package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/n6x/watchdog/internal/conn"
	"github.com/n6x/watchdog/internal/logger"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/n6x/watchdog/internal/semver"
	"github.com/n6x/watchdog/protocol/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ------------------------------------------------------ Handlers -----------------------------------------------------

// handlePeer returns a websocket handler reading Data frames from a dialing
// peer and delivering them inbound.
func (t *Transport) handlePeer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger, err := logger.FromContext(ctx)
		if err != nil {
			return
		}
		c, err := conn.FromContext(ctx)
		if err != nil {
			logger.Error("getting Conn from request context", zap.Error(err))
			return
		}
		if ws, ok := c.(*conn.WS); ok {
			defer ws.Close("")
		}
		pc := conn.Peer{Conn: c}

		hello, err := pc.ReadMsg(ctx, wire.Hello)
		if err != nil {
			logger.Warn("reading hello", zap.Error(err))
			return
		}
		source, err := peer.FromString(hello.Payload.ID)
		if err != nil {
			logger.Warn("rejecting peer without id", zap.Error(err))
			return
		}
		logger = logger.With(zap.Stringer("peer", source))
		remote, err := semver.Parse(hello.Payload.Version)
		if err != nil || !t.version.Compatible(remote) {
			logger.Warn("rejecting incompatible peer", zap.String("remote_version", hello.Payload.Version))
			_ = pc.WriteMsg(ctx, wire.Msg{Type: wire.Bye})
			return
		}
		err = pc.WriteMsg(ctx, wire.Msg{
			Type:    wire.Welcome,
			Payload: wire.Payload{ID: t.self.String(), Version: t.version.String()},
		})
		if err != nil {
			logger.Error("writing welcome", zap.Error(err))
			return
		}
		logger.Info("peer connected")

		t.receive(ctx, pc, source, logger)
		logger.Info("peer disconnected")
	}
}

//nolint:errcheck
func (t *Transport) ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}
}

type versionResponse struct {
	ID      string         `json:"id"`
	Version semver.Version `json:"version"`
}

//nolint:errcheck
func (t *Transport) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(versionResponse{ID: t.self.String(), Version: t.version})
	}
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

// receive delivers Data frames until the remote says Bye or the connection ends.
func (t *Transport) receive(ctx context.Context, pc conn.Peer, source peer.ID, logger *zap.Logger) {
	for {
		msg, err := pc.ReadMsg(ctx, wire.Data, wire.Bye)
		switch {
		case errors.Is(err, io.EOF):
			logger.Warn("connection forcefully closed", zap.Error(err))
			return
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			logger.Error("error reading from connection", zap.Error(err))
			return
		}
		if msg.Type == wire.Bye {
			return
		}
		if err := t.inbound.Deliver(msg.Payload.Data, source); err != nil {
			logger.Warn("delivering payload", zap.Error(err))
		}
	}
}
