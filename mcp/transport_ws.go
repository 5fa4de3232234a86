package mcp

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketTransport implements Transport over an accepted server-side
// WebSocket connection. One transport serves exactly one client; the
// handler runs a dedicated Serve loop per connection.
type WebSocketTransport struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// NewWebSocketTransport wraps an accepted WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{
		conn:   conn,
		logger: logger.With(zap.String("component", "mcp_ws_transport")),
	}
}

// Send writes a JSON-RPC message as a text frame.
// The write is mutex-protected to be safe for concurrent callers.
func (t *WebSocketTransport) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, body)
}

// Receive reads the next JSON-RPC message. Ping messages from the client
// are answered inline and skipped.
func (t *WebSocketTransport) Receive(ctx context.Context) (*Message, error) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			// Normalize client disconnects so the serve loop exits cleanly.
			if websocket.CloseStatus(err) != -1 {
				return nil, io.EOF
			}
			return nil, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}

		// Protocol-level ping without an ID gets an inline pong.
		if msg.Method == "ping" && msg.ID == nil {
			pong := &Message{JSONRPC: "2.0", Method: "pong"}
			if err := t.Send(ctx, pong); err != nil {
				t.logger.Warn("failed to send pong", zap.Error(err))
			}
			continue
		}

		return &msg, nil
	}
}

// Close closes the underlying WebSocket connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.conn.Close(websocket.StatusNormalClosure, "closing")
	})
	return err
}
