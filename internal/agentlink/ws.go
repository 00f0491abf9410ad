package agentlink

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// WSConn wraps coder/websocket with a thread-safe write method.
type WSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWS connects to a session WebSocket endpoint.
func DialWS(ctx context.Context, wsURL string, headers http.Header) (*WSConn, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("agentlink: ws dial: %w", err)
	}
	conn.SetReadLimit(1 << 20) // 1MB
	return &WSConn{conn: conn}, nil
}

// ReadMessage reads the next WebSocket message. Blocks until a message
// arrives, the context is cancelled, or the connection is closed.
func (c *WSConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// WriteMessage sends a text WebSocket message. Thread-safe.
func (c *WSConn) WriteMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame and shuts down the connection.
func (c *WSConn) Close(reason string) {
	c.conn.Close(websocket.StatusNormalClosure, reason)
}
