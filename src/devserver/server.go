// Package devserver is a small backend that speaks the sync envelope
// protocol. It answers pings, acknowledges channel subscriptions, unpacks
// batches and broadcasts to channel subscribers. It exists for local
// development and integration tests.
package devserver

import (
	"encoding/json"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Acknowledgement kinds sent in reply to control messages.
const (
	KindSubscribed   = "subscribed"
	KindUnsubscribed = "unsubscribed"
	KindEcho         = "echo"
)

// Options configures a Server.
type Options struct {
	// Token, when set, must be presented as a bearer credential.
	Token string
	// Echo replies to every data envelope with an echo envelope carrying
	// the same payload.
	Echo bool
}

// Received is a data envelope recorded by the server.
type Received struct {
	SessionID string
	Path      string
	Envelope  types.Envelope
}

type session struct {
	id       string
	path     string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	channels map[string]bool
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Server is a development sync backend.
type Server struct {
	opts     Options
	upgrader websocket.FastHTTPUpgrader
	server   *fasthttp.Server
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	received []Received
}

// New creates a Server.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		opts: opts,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   logger.With().Str("component", "devserver").Logger(),
		sessions: make(map[string]*session),
	}
	s.server = &fasthttp.Server{
		Handler:     s.Handler(),
		Name:        "sync-devserver",
		IdleTimeout: time.Minute,
	}
	return s
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("dev server listening")
	return s.server.Serve(ln)
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown closes every session and stops the listener.
func (s *Server) Shutdown() error {
	s.DropAll()
	return s.server.Shutdown()
}

// Handler returns the fasthttp handler that upgrades every path to a
// sync session.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}
		if s.opts.Token != "" {
			auth := string(ctx.Request.Header.Peek("Authorization"))
			if auth != "Bearer "+s.opts.Token {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString(`{"error":"unauthorized"}`)
				return
			}
		}

		path := string(ctx.Path())
		err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			sess := &session{
				id:       uuid.New().String(),
				path:     path,
				conn:     conn,
				send:     make(chan []byte, 64),
				done:     make(chan struct{}),
				channels: make(map[string]bool),
			}
			s.register(sess)
			defer s.unregister(sess)

			go s.writePump(sess)
			s.readPump(sess)
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.logger.Debug().Str("session_id", sess.id).Str("path", sess.path).Msg("session opened")
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()
	s.logger.Debug().Str("session_id", sess.id).Msg("session closed")
}

func (s *Server) readPump(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := types.DecodeEnvelope(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.id).Msg("bad frame")
			continue
		}
		s.handle(sess, env)
	}
}

func (s *Server) writePump(sess *session) {
	for {
		select {
		case data := <-sess.send:
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (s *Server) handle(sess *session, env types.Envelope) {
	switch env.Kind {
	case types.KindPing:
		s.reply(sess, types.Envelope{Kind: types.KindPong, Timestamp: env.Timestamp})
	case types.KindPong:
	case types.KindSubscribe:
		s.mu.Lock()
		sess.channels[env.Channel] = true
		s.mu.Unlock()
		s.reply(sess, types.Envelope{Kind: KindSubscribed, Channel: env.Channel})
	case types.KindUnsubscribe:
		s.mu.Lock()
		delete(sess.channels, env.Channel)
		s.mu.Unlock()
		s.reply(sess, types.Envelope{Kind: KindUnsubscribed, Channel: env.Channel})
	case types.KindBatch:
		for _, inner := range env.Messages {
			s.handle(sess, inner)
		}
	default:
		s.mu.Lock()
		s.received = append(s.received, Received{SessionID: sess.id, Path: sess.path, Envelope: env})
		s.mu.Unlock()
		if s.opts.Echo {
			s.reply(sess, types.Envelope{Kind: KindEcho, Payload: env.Payload, Timestamp: env.Timestamp})
		}
	}
}

func (s *Server) reply(sess *session, env types.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", env.Kind).Msg("encode failed")
		return false
	}
	select {
	case sess.send <- data:
		return true
	case <-sess.done:
		return false
	default:
		s.logger.Warn().Str("session_id", sess.id).Msg("send buffer full, dropping")
		return false
	}
}

// Broadcast sends env to every session subscribed to channel and returns
// the number of recipients.
func (s *Server) Broadcast(channel string, env types.Envelope) int {
	s.mu.Lock()
	var targets []*session
	for _, sess := range s.sessions {
		if sess.channels[channel] {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, sess := range targets {
		if s.reply(sess, env) {
			n++
		}
	}
	return n
}

// Subscribers returns the number of sessions subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.channels[channel] {
			n++
		}
	}
	return n
}

// Sessions returns the open session paths in sorted order.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.sessions))
	for _, sess := range s.sessions {
		paths = append(paths, sess.path)
	}
	sort.Strings(paths)
	return paths
}

// Received returns every data envelope recorded so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// DropAll closes every session without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
