package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleConn accepts writes and reads nothing until closed.
type idleConn struct {
	mu        sync.Mutex
	written   [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *idleConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, io.EOF
}

func (c *idleConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *idleConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type idleDialer struct{}

func (idleDialer) Dial(context.Context, string) (types.Conn, error) {
	return &idleConn{closed: make(chan struct{})}, nil
}

func newTestProvider(t *testing.T, cfg *config.DaemonConfig) (*SyncProvider, *fiber.App) {
	t.Helper()
	opts := hub.OptionsFromConfig(&cfg.Sync)
	svc := service.NewWithDialer(idleDialer{}, opts, zerolog.Nop())
	p := NewSyncProvider(cfg, svc, zerolog.Nop())
	require.NoError(t, p.Activate())
	t.Cleanup(func() { p.Deactivate() })

	app := fiber.New()
	p.RegisterRoutes(app)
	return p, app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func waitOpen(t *testing.T, p *SyncProvider, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Service().GetConnectionState(id) == types.StateOpen
	}, 2*time.Second, 5*time.Millisecond)
}

func TestActivateOpensConfiguredConnections(t *testing.T) {
	cfg := config.Default()
	cfg.Connections = []config.ConnectionSpec{
		{ID: "events", Endpoint: "/ws/events", Channels: []string{"agents", "tasks"}},
	}
	p, _ := newTestProvider(t, cfg)

	assert.True(t, p.IsActive())
	assert.NotEmpty(t, p.InstanceID())
	waitOpen(t, p, "events")

	info, err := p.Service().GetConnectionInfo("events")
	require.NoError(t, err)
	assert.Equal(t, []string{"agents", "tasks"}, info.Channels)
}

func TestDeactivateClosesConnections(t *testing.T) {
	cfg := config.Default()
	cfg.Connections = []config.ConnectionSpec{{Endpoint: "/ws/events"}}
	opts := hub.OptionsFromConfig(&cfg.Sync)
	p := NewSyncProvider(cfg, service.NewWithDialer(idleDialer{}, opts, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, p.Activate())
	waitOpen(t, p, "/ws/events")

	require.NoError(t, p.Deactivate())
	assert.False(t, p.IsActive())
	assert.Equal(t, types.StateClosed, p.Service().GetConnectionState("/ws/events"))
}

func TestInfoRoute(t *testing.T) {
	_, app := newTestProvider(t, config.Default())

	status, body := do(t, app, http.MethodGet, "/sync/info", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["sync"])
	assert.Equal(t, "http://localhost:8080", body["base_url"])
	assert.Equal(t, false, body["bridge"])
}

func TestConnectionRoutes(t *testing.T) {
	p, app := newTestProvider(t, config.Default())

	status, body := do(t, app, http.MethodPost, "/sync/connections",
		`{"endpoint":"/ws/events","id":"events","channels":["agents"]}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "events", body["id"])
	waitOpen(t, p, "events")

	status, body = do(t, app, http.MethodGet, "/sync/connections/events", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "open", body["state"])
	assert.Equal(t, []any{"agents"}, body["channels"])

	status, _ = do(t, app, http.MethodPost, "/sync/connections/events/channels", `{"channel":"tasks"}`)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, app, http.MethodDelete, "/sync/connections/events/channels/agents", "")
	assert.Equal(t, http.StatusNoContent, status)

	info, _ := p.Service().GetConnectionInfo("events")
	assert.Equal(t, []string{"tasks"}, info.Channels)

	status, body = do(t, app, http.MethodPost, "/sync/connections/events/send",
		`{"kind":"agent.run","payload":{"id":"a1"},"immediate":true}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, false, body["queued"])

	status, body = do(t, app, http.MethodGet, "/sync/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["totalConnections"])

	status, _ = do(t, app, http.MethodDelete, "/sync/connections/events", "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, types.StateClosed, p.Service().GetConnectionState("events"))
}

func TestConnectionRouteErrors(t *testing.T) {
	_, app := newTestProvider(t, config.Default())

	status, body := do(t, app, http.MethodGet, "/sync/connections/ghost", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	status, _ = do(t, app, http.MethodDelete, "/sync/connections/ghost", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/sync/connections", `{"id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/sync/connections", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodPost, "/sync/connections/ghost/send", `{"kind":"x"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_connected", body["error"])

	status, _ = do(t, app, http.MethodPost, "/sync/connections/ghost/send", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/sync/connections/ghost/channels", `{"channel":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConnectionsListRoute(t *testing.T) {
	cfg := config.Default()
	cfg.Connections = []config.ConnectionSpec{{ID: "b", Endpoint: "/ws/b"}, {ID: "a", Endpoint: "/ws/a"}}
	p, app := newTestProvider(t, cfg)
	waitOpen(t, p, "a")

	req := httptest.NewRequest(http.MethodGet, "/sync/connections", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var infos []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0]["id"])
	assert.Equal(t, "b", infos[1]["id"])
}
