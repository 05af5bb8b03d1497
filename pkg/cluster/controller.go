// Package cluster runs the client side of the analysis cluster. A Controller
// owns the server registry, the job dispatcher and one session per server,
// and confines all of their state to a single loop goroutine: session
// events, timers and caller requests are all funneled through it.
package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/registry"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/session"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by calls made after the loop has stopped.
var ErrClosed = errors.New("cluster controller stopped")

const inboxSize = 1024

// Conn is the part of a session the controller drives.
type Conn interface {
	Connect(ctx context.Context) bool
	Ready() bool
	Send(msg protocol.Message) error
	Close() error
}

// ServerObserver is told when a server link comes up or goes down.
type ServerObserver interface {
	ServerOnline(serverID string)
	ServerOffline(serverID string, err error)
}

// Config holds Controller configuration.
type Config struct {
	Servers          []protocol.ServerInfo
	BaseDir          string // TLS material resolves against it
	History          dispatcher.History
	Logger           *zap.Logger
	Observers        []dispatcher.Observer
	ServerObservers  []ServerObserver
	PingInterval     time.Duration // keepalive and reconnect cadence (default 3s)
	DispatchInterval time.Duration // pending dispatch backstop (default 2s)
	ReconnectEvery   time.Duration // minimum spacing of connect attempts per server (default 1s)
	JobsListLimit    int           // jobs requested on every ready (default 200)

	// NewConn builds the connection for one server; nil uses session.New.
	NewConn func(server protocol.ServerInfo, h session.Handler) Conn
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.PingInterval == 0 {
		out.PingInterval = 3 * time.Second
	}
	if out.DispatchInterval == 0 {
		out.DispatchInterval = 2 * time.Second
	}
	if out.ReconnectEvery == 0 {
		out.ReconnectEvery = time.Second
	}
	if out.JobsListLimit == 0 {
		out.JobsListLimit = protocol.JobsListLimit
	}
	return out
}

// Controller is the cluster loop.
type Controller struct {
	cfg  Config
	log  *zap.Logger
	reg  *registry.Registry
	jobs *dispatcher.Dispatcher

	order    []string
	sessions map[string]Conn

	// loop-owned bookkeeping
	submitted map[string]string // job id -> server the submit reached
	cancelled map[string]bool
	linkUp    map[string]bool // last announced link state per server

	ctx   context.Context
	inbox chan func()
	done  chan struct{}
}

// New builds a Controller. Nothing connects until Run.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:       cfg,
		log:       cfg.Logger,
		reg:       registry.New(cfg.Servers),
		sessions:  make(map[string]Conn),
		submitted: make(map[string]string),
		cancelled: make(map[string]bool),
		linkUp:    make(map[string]bool),
		ctx:       context.Background(),
		inbox:     make(chan func(), inboxSize),
		done:      make(chan struct{}),
	}
	c.jobs = dispatcher.New(c.reg, dispatcher.Config{History: cfg.History, Logger: cfg.Logger})
	c.jobs.Subscribe(c)
	for _, o := range cfg.Observers {
		c.jobs.Subscribe(o)
	}

	newConn := cfg.NewConn
	if newConn == nil {
		newConn = func(server protocol.ServerInfo, h session.Handler) Conn {
			return session.New(session.Config{
				Server:  server,
				BaseDir: cfg.BaseDir,
				Handler: h,
				Logger:  cfg.Logger,
				Limiter: rate.NewLimiter(rate.Every(cfg.ReconnectEvery), 1),
			})
		}
	}
	for _, s := range c.reg.Servers() {
		c.order = append(c.order, s.ID)
		c.sessions[s.ID] = newConn(s, c)
	}
	return c
}

// Run connects every session and processes events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.closeSessions()

	for _, id := range c.order {
		c.sessions[id].Connect(ctx)
	}

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	backstop := time.NewTicker(c.cfg.DispatchInterval)
	defer backstop.Stop()

	c.log.Info("cluster loop started", zap.Int("servers", len(c.order)))
	for {
		select {
		case <-ctx.Done():
			c.log.Info("cluster loop stopping")
			return nil
		case fn := <-c.inbox:
			fn()
		case <-ping.C:
			c.keepalive()
		case <-backstop.C:
			c.jobs.TryDispatchPending()
		}
	}
}

func (c *Controller) closeSessions() {
	for _, id := range c.order {
		if err := c.sessions[id].Close(); err != nil {
			c.log.Debug("close session", zap.String("server", id), zap.Error(err))
		}
	}
}

// keepalive reconnects idle sessions and pings live ones. Best effort.
func (c *Controller) keepalive() {
	for _, id := range c.order {
		s := c.sessions[id]
		if !s.Ready() {
			s.Connect(c.ctx)
			continue
		}
		if err := s.Send(protocol.NewPing()); err != nil {
			c.log.Debug("ping failed", zap.String("server", id), zap.Error(err))
		}
	}
}

// post hands fn to the loop. It blocks while the inbox is full and gives up
// once the loop has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it. ctx bounds only the wait for
// room in the inbox; once queued, fn runs to completion before call returns.
func (c *Controller) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.inbox <- wrapped:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		// The loop may have taken fn just before stopping.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) sendTo(serverID string, msg protocol.Message) error {
	s, ok := c.sessions[serverID]
	if !ok {
		return &protocol.ServerNotFoundError{ServerID: serverID}
	}
	return s.Send(msg)
}
