package listen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// KeepAliveMessage is the literal control payload sent by the keep-alive duty
const KeepAliveMessage = `{"type": "KeepAlive"}`

// DefaultDialer is used when no dialer is configured
var DefaultDialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 45 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// Dial performs the WebSocket upgrade for params. The dialer generates the
// key, host, connection, upgrade and version headers; the authorization
// header is only attached when a credential is configured.
func Dial(ctx context.Context, dialer *websocket.Dialer, params *Parameters) (*websocket.Conn, error) {
	if dialer == nil {
		dialer = DefaultDialer
	}

	headers := http.Header{}
	if params.apiKey != "" {
		headers.Set("Authorization", "token "+params.apiKey)
	}

	conn, resp, err := dialer.DialContext(ctx, params.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Kind:       KindHandshake,
				Op:         "dial",
				Err:        fmt.Errorf("upgrade rejected with status %d: %w", resp.StatusCode, err),
				StatusCode: resp.StatusCode,
			}
		}
		return nil, &Error{Kind: KindHandshake, Op: "dial", Err: err}
	}
	return conn, nil
}
