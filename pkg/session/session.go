// Package session maintains one line-delimited JSON connection to one
// analysis server, over plain TCP or mutually authenticated TLS.
//
// A Session never blocks its caller: Connect starts a background attempt,
// Send queues a line for the writer goroutine, and results are reported to
// a Handler. Ready fires on connect for plain TCP and only after a
// successful handshake for TLS.
package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultDialTimeout      = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReconnectSpacing = time.Second
	outboundQueue           = 256
	readBufferSize          = 64 * 1024
)

// ErrConnectionClosed is reported when the peer closes the connection.
var ErrConnectionClosed = errors.New("connection closed")

// Handler receives session events. Calls come from session goroutines and
// must not block; for one session they arrive in order.
type Handler interface {
	SessionReady(serverID string)
	SessionMessage(serverID string, msg protocol.Message)
	SessionClosed(serverID string, err error)
}

// State is the connection state of a Session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Config holds Session parameters.
type Config struct {
	Server       protocol.ServerInfo
	BaseDir      string // relative TLS paths resolve against it
	Handler      Handler
	Logger       *zap.Logger
	Limiter      *rate.Limiter // paces connect attempts; default one per second
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLineBytes int // longer inbound lines are dropped; default protocol.MaxLineBytes
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Limiter == nil {
		out.Limiter = rate.NewLimiter(rate.Every(defaultReconnectSpacing), 1)
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = defaultDialTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaultWriteTimeout
	}
	if out.MaxLineBytes <= 0 {
		out.MaxLineBytes = protocol.MaxLineBytes
	}
	return out
}

// Session is one persistent connection to one server.
type Session struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	state  State
	gen    uint64 // bumps on every attempt and on Close; stale goroutines compare against it
	conn   net.Conn
	out    chan []byte
	connID string
	cancel context.CancelFunc
	closed bool
}

// New returns a disconnected Session.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg: cfg,
		log: cfg.Logger.With(zap.String("server", cfg.Server.ID)),
	}
}

// ServerID returns the id of the server this session talks to.
func (s *Session) ServerID() string { return s.cfg.Server.ID }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether messages may be sent.
func (s *Session) Ready() bool { return s.State() == StateReady }

// Connect starts a connection attempt in the background. It does nothing
// and returns false when the session is not disconnected, has been closed,
// or the reconnect limiter denies the attempt.
func (s *Session) Connect(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateDisconnected || !s.cfg.Limiter.Allow() {
		return false
	}
	s.gen++
	s.state = StateConnecting
	s.connID = uuid.NewString()
	if s.cancel != nil {
		s.cancel()
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(attemptCtx, s.gen, s.connID)
	return true
}

// Send queues msg for delivery. It fails when the session is not ready or
// its outbound queue is full.
func (s *Session) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return &protocol.ServerUnreachableError{ServerID: s.cfg.Server.ID, Reason: "session " + s.state.String()}
	}
	select {
	case s.out <- data:
		return nil
	default:
		return &protocol.ServerUnreachableError{ServerID: s.cfg.Server.ID, Reason: "outbound queue full"}
	}
}

// Close tears the connection down and prevents further attempts. A close
// caused by Close is not reported to the Handler.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.gen++
	conn := s.conn
	s.detachLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// detachLocked forgets the current connection. Callers hold s.mu.
func (s *Session) detachLocked() {
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.conn = nil
	s.state = StateDisconnected
}

func (s *Session) run(ctx context.Context, gen uint64, connID string) {
	log := s.log.With(zap.String("conn", connID))

	conn, err := s.dial(ctx)
	if err != nil {
		log.Warn("connect failed", zap.String("addr", s.cfg.Server.Addr()), zap.Error(err))
		s.finish(gen, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	out := make(chan []byte, outboundQueue)
	s.conn = conn
	s.out = out
	s.state = StateReady
	s.mu.Unlock()

	log.Info("session ready", zap.String("addr", s.cfg.Server.Addr()), zap.Bool("tls", s.cfg.Server.TLS.Enabled))
	s.cfg.Handler.SessionReady(s.cfg.Server.ID)

	go s.writeLoop(conn, out, log)
	err = s.readLoop(conn, log)
	_ = conn.Close()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.mu.Unlock()

	log.Warn("session closed", zap.Error(err))
	s.cfg.Handler.SessionClosed(s.cfg.Server.ID, err)
}

// finish reports a failed attempt unless the session moved on meanwhile.
func (s *Session) finish(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()
	s.cfg.Handler.SessionClosed(s.cfg.Server.ID, err)
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	var tlsCfg *tls.Config
	if s.cfg.Server.TLS.Enabled {
		var err error
		tlsCfg, err = BuildTLSConfig(s.cfg.Server, s.cfg.BaseDir)
		if err != nil {
			return nil, err
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", s.cfg.Server.Addr())
	if err != nil {
		return nil, &protocol.ServerUnreachableError{ServerID: s.cfg.Server.ID, Reason: err.Error()}
	}
	if tlsCfg == nil {
		return conn, nil
	}

	tc := tls.Client(conn, tlsCfg)
	if err := tc.HandshakeContext(dialCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", s.cfg.Server.Addr(), err)
	}
	return tc, nil
}

// readLoop splits inbound bytes on newlines until the connection fails.
// Blank lines are skipped; malformed and oversized lines are logged and
// dropped.
func (s *Session) readLoop(conn net.Conn, log *zap.Logger) error {
	r := bufio.NewReaderSize(conn, readBufferSize)
	for {
		line, err := readLine(r, s.cfg.MaxLineBytes)
		if errors.Is(err, errLineTooLong) {
			log.Warn("dropping oversized line",
				zap.Int("limit", s.cfg.MaxLineBytes), zap.String("line", protocol.Preview(line)))
			continue
		}
		if errors.Is(err, io.EOF) {
			return ErrConnectionClosed
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			log.Warn("dropping malformed line", zap.String("line", protocol.Preview(line)), zap.Error(err))
			continue
		}
		s.cfg.Handler.SessionMessage(s.cfg.Server.ID, msg)
	}
}

var errLineTooLong = errors.New("line too long")

// readLine returns the next line without its newline. A line longer than
// limit is read through to its newline and discarded; its head comes back
// with errLineTooLong. A final unterminated line is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		body := bytes.TrimSuffix(chunk, []byte{'\n'})
		if !tooLong && len(line)+len(body) > limit {
			tooLong = true
		}
		if !tooLong {
			line = append(line, body...)
		} else if room := protocol.LogPreviewBytes - len(line); room > 0 {
			line = append(line, body[:min(room, len(body))]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !tooLong {
				return line, nil
			}
			return nil, err
		}
		if tooLong {
			return line, errLineTooLong
		}
		return line, nil
	}
}

func (s *Session) writeLoop(conn net.Conn, out <-chan []byte, log *zap.Logger) {
	for data := range out {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			log.Debug("set write deadline", zap.Error(err))
		}
		if _, err := conn.Write(data); err != nil {
			log.Warn("write failed", zap.Error(err))
			_ = conn.Close()
			for range out {
			}
			return
		}
	}
}
