// Package transport dials the backend's WebSocket endpoints and adapts the
// resulting connections to types.Conn.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Options configures a Dialer.
type Options struct {
	Token            string        // Bearer credential, attached to the upgrade request
	HandshakeTimeout time.Duration // Upgrade handshake deadline
	WriteTimeout     time.Duration // Deadline applied to each frame write
	ReadLimit        int64         // Max inbound frame size in bytes, 0 = unlimited
	Header           http.Header   // Extra request headers
}

// Dialer opens WebSocket connections.
type Dialer struct {
	opts   Options
	dialer *websocket.Dialer
}

// NewDialer creates a Dialer.
func NewDialer(opts Options) *Dialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Dialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Dial connects to rawURL.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (types.Conn, error) {
	header := http.Header{}
	for k, v := range d.opts.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Accept", "application/json")
	if d.opts.Token != "" {
		header.Set("Authorization", "Bearer "+d.opts.Token)
	}

	ws, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", rawURL, err)
	}
	if d.opts.ReadLimit > 0 {
		ws.SetReadLimit(d.opts.ReadLimit)
	}
	return &conn{ws: ws, writeTimeout: d.opts.WriteTimeout}, nil
}

// conn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// ReadMessage returns the next data frame. A normal or going-away close
// from the peer is reported as io.EOF.
func (c *conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage writes one text frame. Only one goroutine may write at a
// time.
func (c *conn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the socket. Safe to call
// more than once.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// URL resolves endpoint against the host of base. The scheme mirrors
// base's: http and ws map to ws, https and wss map to wss.
func URL(base, endpoint string) (string, error) {
	if endpoint == "" {
		return "", types.ErrEmptyEndpoint
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if b.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	var scheme string
	switch strings.ToLower(b.Scheme) {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
		scheme = "ws"
	default:
		return "", fmt.Errorf("base url %q: unsupported scheme", base)
	}

	ep, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	path := ep.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := url.URL{Scheme: scheme, Host: b.Host, Path: path, RawQuery: ep.RawQuery}
	return u.String(), nil
}
