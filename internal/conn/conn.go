package conn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/n6x/watchdog/protocol/wire"
	"nhooyr.io/websocket"
)

// Conn is an interface that wraps a network connection.
type Conn interface {
	Write(context.Context, []byte) error
	Read(context.Context) ([]byte, error)
}

// ------------------ Conn implementations ------------------

// WS is a wrapper around a websocket connection.
type WS struct {
	Conn *websocket.Conn
}

func (ws *WS) Write(ctx context.Context, payload []byte) error {
	return ws.Conn.Write(ctx, websocket.MessageBinary, payload)
}

func (ws *WS) Read(ctx context.Context) ([]byte, error) {
	_, payload, err := ws.Conn.Read(ctx)
	return payload, err
}

// Close closes the websocket with a normal closure status.
func (ws *WS) Close(reason string) error {
	return ws.Conn.Close(websocket.StatusNormalClosure, reason)
}

// ------------------ Peer Conn ------------------------

// Peer specifies a connection between two watchdog peers.
type Peer struct {
	Conn Conn
}

// WriteMsg writes a wire message to the underlying connection.
func (p Peer) WriteMsg(ctx context.Context, msg wire.Msg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type.Name(), err)
	}
	return p.Conn.Write(ctx, payload)
}

// ReadMsg reads a wire message from the underlying connection.
func (p Peer) ReadMsg(ctx context.Context, expected ...wire.MsgType) (wire.Msg, error) {
	b, err := p.Conn.Read(ctx)
	if err != nil {
		return wire.Msg{}, err
	}
	var msg wire.Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return wire.Msg{}, fmt.Errorf("decoding message: %w", err)
	}
	if err := wire.Expect(msg.Type, expected...); err != nil {
		return wire.Msg{}, err
	}
	return msg, nil
}
