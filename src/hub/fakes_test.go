package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/metrics"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errConnReset = errors.New("connection reset by peer")

// fakeConn implements types.Conn over channels.
type fakeConn struct {
	inbound   chan []byte
	failures  chan error
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		failures: make(chan error, 1),
		writes:   make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case err := <-f.failures:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.writes <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// deliver injects an inbound frame.
func (f *fakeConn) deliver(frame string) { f.inbound <- []byte(frame) }

// drop makes the next read fail with err.
func (f *fakeConn) drop(err error) { f.failures <- err }

// fakeDialer hands out fakeConns. fail, when set, decides per dial
// whether to refuse.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	fail  func(n int) error
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (types.Conn, error) {
	d.mu.Lock()
	n := len(d.urls)
	d.urls = append(d.urls, url)
	fail := d.fail
	d.mu.Unlock()

	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(fail func(n int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// recorder captures every dispatched event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) kinds() []string {
	var kinds []string
	for _, ev := range r.all() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *recorder) of(kind string) []events.Event {
	var out []events.Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitCount(t *testing.T, kind string, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.of(kind)) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d %q events", n, kind)
	return r.of(kind)
}

type harness struct {
	hub        *Hub
	clock      *clock.FakeClock
	dialer     *fakeDialer
	dispatcher *events.Dispatcher
	metrics    *metrics.Collector
	rec        *recorder
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		BaseURL:              "http://dashboard.test",
		Backoff:              Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10},
		HeartbeatInterval:    30 * time.Second,
		PongTimeoutIntervals: 2,
		BatchInterval:        100 * time.Millisecond,
		SendBufferSize:       64,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	fc := clock.Fake(epoch)
	opts.Clock = fc

	d := events.New(zerolog.Nop())
	rec := &recorder{}
	d.On(types.Wildcard, rec.handle)

	m := metrics.New()
	dialer := newFakeDialer()
	h := New(dialer, d, m, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{hub: h, clock: fc, dialer: dialer, dispatcher: d, metrics: m, rec: rec}
}

// settle blocks until every task queued so far has run.
func (hs *harness) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	hs.hub.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not settle")
	}
}

// advance moves the fake clock and waits for the resulting timer tasks.
func (hs *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	hs.clock.Advance(d)
	hs.settle(t)
}

func (hs *harness) waitState(t *testing.T, id string, want types.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, _ := hs.hub.State(id)
		return st == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s to reach %s", id, want)
}

// open connects id and waits for the transport to open.
func (hs *harness) open(t *testing.T, endpoint, id string) *fakeConn {
	t.Helper()
	_, err := hs.hub.Connect(endpoint, id)
	require.NoError(t, err)
	conn := hs.dialer.next(t)
	hs.waitState(t, id, types.StateOpen)
	hs.settle(t)
	return conn
}

func readFrame(t *testing.T, c *fakeConn) types.Envelope {
	t.Helper()
	select {
	case data := <-c.writes:
		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return types.Envelope{}
	}
}

func requireNoFrame(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case data := <-c.writes:
		t.Fatalf("unexpected outbound frame: %s", data)
	case <-time.After(30 * time.Millisecond):
	}
}

func message(t *testing.T, kind string, payload any) types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(kind, payload, epoch)
	require.NoError(t, err)
	return env
}
