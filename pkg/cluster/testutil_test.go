package cluster //nolint:testpackage // white-box tests drive the loop directly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/session"
)

// waitFor polls condition until it holds or timeout elapses.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// fakeConn records what the controller sends. It is ready only when the
// test says so.
type fakeConn struct {
	id string

	mu       sync.Mutex
	ready    bool
	connects int
	sent     []protocol.Message
}

func (f *fakeConn) Connect(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return true
}

func (f *fakeConn) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeConn) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return &protocol.ServerUnreachableError{ServerID: f.id, Reason: "not connected"}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

func (f *fakeConn) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// sentOf returns the messages of type typ sent so far.
func (f *fakeConn) sentOf(typ protocol.MessageType) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) allSent() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

type serverEvents struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (o *serverEvents) ServerOnline(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = append(o.online, id)
}

func (o *serverEvents) ServerOffline(id string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = append(o.offline, id)
}

func (o *serverEvents) counts() (online, offline int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.online), len(o.offline)
}

type harness struct {
	t      *testing.T
	c      *Controller
	conns  map[string]*fakeConn
	events *serverEvents
	ctx    context.Context
}

func server(id string, maxJobs int) protocol.ServerInfo {
	return protocol.ServerInfo{ID: id, Name: id, Host: "127.0.0.1", Port: 9000, MaxJobs: maxJobs, Enabled: true}
}

// newHarness starts a controller over fake connections. Timers default to an
// hour so tests drive every event themselves.
func newHarness(t *testing.T, tweak func(*Config), servers ...protocol.ServerInfo) *harness {
	t.Helper()
	h := &harness{t: t, conns: make(map[string]*fakeConn), events: &serverEvents{}}
	cfg := Config{
		Servers:          servers,
		ServerObservers:  []ServerObserver{h.events},
		PingInterval:     time.Hour,
		DispatchInterval: time.Hour,
		NewConn: func(s protocol.ServerInfo, _ session.Handler) Conn {
			fc := &fakeConn{id: s.ID}
			h.conns[s.ID] = fc
			return fc
		},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.c = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(5 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return h
}

// sync waits until everything posted so far has been handled.
func (h *harness) sync() {
	h.t.Helper()
	if err := h.c.call(h.ctx, func() {}); err != nil {
		h.t.Fatalf("sync: %v", err)
	}
}

// connect makes a server's link ready and delivers the ready event.
func (h *harness) connect(id string) {
	h.t.Helper()
	h.conns[id].setReady(true)
	h.c.SessionReady(id)
	h.sync()
}

func (h *harness) disconnect(id string) {
	h.t.Helper()
	h.conns[id].setReady(false)
	h.c.SessionClosed(id, session.ErrConnectionClosed)
	h.sync()
}

func (h *harness) deliver(id string, msg protocol.Message) {
	h.t.Helper()
	h.c.SessionMessage(id, msg)
	h.sync()
}

func (h *harness) enqueue(req ...string) protocol.Job {
	h.t.Helper()
	r := enqueueReq()
	if len(req) > 0 {
		r.PreferredServer = req[0]
	}
	job, err := h.c.Enqueue(h.ctx, r)
	if err != nil {
		h.t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func (h *harness) job(id string) protocol.Job {
	h.t.Helper()
	job, err := h.c.Job(h.ctx, id)
	if err != nil {
		h.t.Fatalf("Job(%s): %v", id, err)
	}
	return job
}

func (h *harness) server(id string) protocol.ServerInfo {
	h.t.Helper()
	servers, err := h.c.Servers(h.ctx)
	if err != nil {
		h.t.Fatalf("Servers: %v", err)
	}
	for _, s := range servers {
		if s.ID == id {
			return s
		}
	}
	h.t.Fatalf("server %s not found", id)
	return protocol.ServerInfo{}
}

func ptr[T any](v T) *T { return &v }

func statusMsg(jobID string, s protocol.JobStatus) protocol.Message {
	return protocol.Message{Type: protocol.MsgJobUpdate, JobID: jobID, Status: ptr(int(s))}
}
