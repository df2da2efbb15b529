package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// Transport carries commands between a Client and the relay. WriteCommand
// must be safe for concurrent use.
type Transport interface {
	ReadCommand(ctx context.Context) (protocol.ServerCommand, error)
	WriteCommand(cmd protocol.ClientCommand) error
	Close() error
}

const transportWriteWait = 10 * time.Second

// WebSocketTransport speaks the relay protocol over a gorilla connection.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// ReadCommand blocks for the next server command. Cancelling ctx closes the
// socket to unblock the read.
func (t *WebSocketTransport) ReadCommand(ctx context.Context) (protocol.ServerCommand, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "read from relay")
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return protocol.DecodeServer(data)
	}
}

func (t *WebSocketTransport) WriteCommand(cmd protocol.ClientCommand) error {
	data, err := protocol.EncodeClient(cmd)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the socket.
func (t *WebSocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(transportWriteWait))
	t.writeMu.Unlock()
	return t.conn.Close()
}
