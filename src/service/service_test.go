package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopConn records writes and blocks reads until closed.
type loopConn struct {
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *loopConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, io.EOF
}

func (c *loopConn) WriteMessage(data []byte) error {
	c.writes <- data
	return nil
}

func (c *loopConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type loopDialer struct {
	conns chan *loopConn
}

func (d *loopDialer) Dial(context.Context, string) (types.Conn, error) {
	c := &loopConn{writes: make(chan []byte, 16), closed: make(chan struct{})}
	d.conns <- c
	return c, nil
}

func newTestService(t *testing.T) (*Service, *clock.FakeClock, *loopDialer) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dialer := &loopDialer{conns: make(chan *loopConn, 4)}
	svc := NewWithDialer(dialer, hub.Options{
		BaseURL:       "https://dashboard.test",
		Backoff:       hub.Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10},
		BatchInterval: 100 * time.Millisecond,
		Clock:         fc,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, fc, dialer
}

func openConnection(t *testing.T, svc *Service, d *loopDialer, endpoint, id string) *loopConn {
	t.Helper()
	_, err := svc.Connect(endpoint, id)
	require.NoError(t, err)
	conn := <-d.conns
	require.Eventually(t, func() bool {
		return svc.GetConnectionState(id) == types.StateOpen
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestUnknownConnectionErrors(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.ErrorIs(t, svc.Disconnect("ghost"), types.ErrUnknownConnection)
	assert.ErrorIs(t, svc.Subscribe("ghost", "agents"), types.ErrUnknownConnection)
	assert.Error(t, svc.Unsubscribe("ghost", "agents"))
	_, err := svc.GetConnectionInfo("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownConnection)
	assert.Equal(t, types.StateIdle, svc.GetConnectionState("ghost"))
}

func TestSendValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.ErrorIs(t, svc.Send("x", "", nil), types.ErrMissingKind)
	assert.Error(t, svc.Send("x", "bad", make(chan int)))
	assert.NoError(t, svc.Send("ghost", "ok", nil))
}

func TestSendImmediateWritesEnvelope(t *testing.T) {
	svc, _, d := newTestService(t)
	conn := openConnection(t, svc, d, "/ws/events", "events")

	require.NoError(t, svc.SendImmediate("events", "agent.run", map[string]string{"id": "a1"}))

	var env types.Envelope
	require.NoError(t, json.Unmarshal(<-conn.writes, &env))
	assert.Equal(t, "agent.run", env.Kind)
	assert.JSONEq(t, `{"id":"a1"}`, string(env.Payload))
	assert.Equal(t, "2026-01-01T00:00:00Z", env.Timestamp)
}

func TestSendIsBatched(t *testing.T) {
	svc, fc, d := newTestService(t)
	conn := openConnection(t, svc, d, "/ws/events", "events")

	require.NoError(t, svc.Send("events", "a", nil))
	require.NoError(t, svc.Send("events", "b", nil))
	fc.Advance(100 * time.Millisecond)

	var env types.Envelope
	select {
	case data := <-conn.writes:
		require.NoError(t, json.Unmarshal(data, &env))
	case <-time.After(2 * time.Second):
		t.Fatal("no batch written")
	}
	assert.Equal(t, types.KindBatch, env.Kind)
	assert.Equal(t, 2, env.Count)
}

func TestConnectionLifecycleThroughService(t *testing.T) {
	svc, _, d := newTestService(t)
	openConnection(t, svc, d, "/ws/events", "events")

	info, err := svc.GetConnectionInfo("events")
	require.NoError(t, err)
	assert.Equal(t, "/ws/events", info.Endpoint)
	assert.Len(t, svc.Connections(), 1)
	assert.Equal(t, []string{"events"}, svc.GetMetrics().Connections)

	require.NoError(t, svc.Disconnect("events"))
	assert.Equal(t, types.StateClosed, svc.GetConnectionState("events"))
	assert.Empty(t, svc.GetMetrics().Connections)
}

func TestOnOffEmit(t *testing.T) {
	svc, _, _ := newTestService(t)

	var got []any
	sub := svc.On("custom", func(ev events.Event) error {
		got = append(got, ev.Payload)
		return nil
	})
	svc.Emit("custom", 1)
	assert.True(t, svc.Off(sub))
	svc.Emit("custom", 2)

	assert.Equal(t, []any{1}, got)
	assert.False(t, svc.Off(sub))
}
