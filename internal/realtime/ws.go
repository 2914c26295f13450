package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsSocket adapts a coder/websocket connection to the Socket interface.
type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, s.conn, v)
}

func (s *wsSocket) ReadJSON(ctx context.Context, v any) error {
	return wsjson.Read(ctx, s.conn, v)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// DialWebSocket opens an authenticated websocket to the event server.
// The bearer token rides in the Authorization header; the handshake is
// bounded by the ctx deadline set by the connection manager.
func DialWebSocket(ctx context.Context, url, token string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + token},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// Message pushes are small; the default 32 KiB read limit is enough,
	// but reactions bursts on popular messages have exceeded it before.
	conn.SetReadLimit(256 * 1024)
	return &wsSocket{conn: conn}, nil
}
