// Package ws owns the physical WebSocket connection: a dedicated read pump,
// serialized writes, and a reconnect loop with exponential backoff. Protocol
// concerns (correlation, subscriptions) live above it in internal/client.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

var (
	ErrNotConnected       = errors.New("websocket session not connected")
	ErrSessionClosed      = errors.New("websocket session closed")
	ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
	defaultMaxReconnect = 5
)

// Config wires a Session to its endpoint and its owner's callbacks. All
// callbacks are optional; OnFrame is invoked from the read pump and must not
// block.
type Config struct {
	URL           string
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	ReadLimit     int64
	Backoff       Backoff
	MaxReconnects int

	OnFrame      func(payload []byte)
	OnConnect    func(reconnected bool)
	OnDisconnect func(err error)
	OnTerminal   func(err error)
}

func (c *Config) fill() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnect
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
}

// Session manages one logical connection across physical reconnects.
type Session struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
}

// New builds a Session. Connect must be called before Send.
func New(cfg Config) *Session {
	cfg.fill()
	return &Session{cfg: cfg}
}

// Connect dials the endpoint and starts the read pump. It blocks until the
// first connection is established or the dial fails; reconnects after that
// happen in the background.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.install(conn)
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(false)
	}

	go s.run(ctx)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(s.cfg.ReadLimit)
	return conn, nil
}

func (s *Session) install(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.mu.Unlock()
}

// run drives the read pump and the reconnect loop until the session is closed
// or reconnect attempts are exhausted.
func (s *Session) run(ctx context.Context) {
	for {
		err := s.readPump()
		s.teardown()

		if s.isClosed() || ctx.Err() != nil {
			return
		}
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(err)
		}
		if !s.reconnect(ctx) {
			if s.cfg.OnTerminal != nil {
				s.cfg.OnTerminal(ErrReconnectExhausted)
			}
			return
		}
	}
}

// readPump delivers frames until the connection fails. Any failure, including
// a panic escaping the frame handler, takes the disconnect path.
func (s *Session) readPump() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("read pump panic: %v", r)
			err = errors.New("read pump panic")
		}
	}()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.cfg.OnFrame != nil {
			s.cfg.OnFrame(payload)
		}
	}
}

func (s *Session) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		wait := s.cfg.Backoff.Next(attempt)
		logs.Warnf("reconnecting in %s (attempt %d/%d)", wait, attempt, s.cfg.MaxReconnects)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if s.isClosed() {
			return false
		}

		conn, err := s.dial(ctx)
		if err != nil {
			logs.Errorf("reconnect dial failed: %v", err)
			continue
		}
		s.install(conn)
		if s.cfg.OnConnect != nil {
			s.cfg.OnConnect(true)
		}
		return true
	}
	return false
}

// Send writes one text frame. Writes are serialized and bounded by the write
// deadline.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Kick drops the current connection so the reconnect loop replaces it. Used
// when the peer stops answering but the socket is still open.
func (s *Session) Kick() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close terminates the session permanently.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Connected reports whether a physical connection is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
