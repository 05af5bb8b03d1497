// Package dispatcher owns the active job set. It runs the job lifecycle state
// machine, places Pending jobs on servers in FIFO order, keeps optimistic
// capacity accounting in the registry, and hands terminal jobs to history.
//
// A Dispatcher is not safe for concurrent use. The cluster loop owns it and
// serializes every call, so observers are invoked on that loop as well.
package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/merge"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/registry"

	"go.uber.org/zap"
)

// Log lines appended to jobs.
const (
	logNoServer = "No available server (Offline/Busy)."
	logStopped  = "Stopped by user."
)

const persistTimeout = 5 * time.Second

// --- Ports ---

// Observer receives job lifecycle events. Every job passed in is a copy.
type Observer interface {
	JobAdded(job protocol.Job)
	JobUpdated(job protocol.Job)
	JobRemoved(job protocol.Job)
}

// History persists terminal jobs. SaveJob must be idempotent: the same job
// may be saved more than once as late updates arrive.
type History interface {
	SaveJob(ctx context.Context, job protocol.Job) error
}

// --- Config ---

// Config holds optional Dispatcher collaborators.
type Config struct {
	History History     // nil disables persistence
	Logger  *zap.Logger // nil means no logging
}

// EnqueueRequest describes a new job.
type EnqueueRequest struct {
	Opponent        string
	FEN             string
	Limit           protocol.Limit
	MultiPV         int
	PreferredServer string // empty for any server
}

// RemoteUpdate is a progress report for one job.
type RemoteUpdate struct {
	Status   protocol.JobStatus
	Snapshot protocol.JobSnapshot
	LogLine  string
}

// entry is a job plus the server whose capacity it currently holds. slot is
// set from dispatch until the job turns terminal or is removed.
type entry struct {
	job  protocol.Job
	slot string
}

// Dispatcher owns the active jobs in FIFO order.
type Dispatcher struct {
	reg       *registry.Registry
	history   History
	log       *zap.Logger
	nowFunc   func() time.Time
	observers []Observer

	jobs  []*entry
	index map[string]*entry

	lastIDMillis int64
	idSeq        int
}

// New returns a Dispatcher placing jobs on servers from reg.
func New(reg *registry.Registry, cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		reg:     reg,
		history: cfg.History,
		log:     log,
		nowFunc: time.Now,
		index:   make(map[string]*entry),
	}
}

// Subscribe adds an observer. Observers are called in subscription order.
func (d *Dispatcher) Subscribe(o Observer) {
	d.observers = append(d.observers, o)
}

// --- Queries ---

// Jobs returns copies of the active jobs in FIFO order.
func (d *Dispatcher) Jobs() []protocol.Job {
	out := make([]protocol.Job, 0, len(d.jobs))
	for _, e := range d.jobs {
		out = append(out, e.job.Clone())
	}
	return out
}

// Job returns a copy of one active job.
func (d *Dispatcher) Job(id string) (protocol.Job, bool) {
	e, ok := d.index[id]
	if !ok {
		return protocol.Job{}, false
	}
	return e.job.Clone(), true
}

// IndexOf returns the position of id in the active list, or -1.
func (d *Dispatcher) IndexOf(id string) int {
	return slices.IndexFunc(d.jobs, func(e *entry) bool { return e.job.ID == id })
}

// Len returns the number of active jobs.
func (d *Dispatcher) Len() int { return len(d.jobs) }

// --- Operations ---

// Enqueue creates a job. Jobs already waiting get first claim on free
// capacity, so pending dispatch runs before the new job is placed. When no
// server is available the job stays Pending, pinned to the requested server
// if one was named.
func (d *Dispatcher) Enqueue(req EnqueueRequest) string {
	d.TryDispatchPending()

	now := d.nowFunc()
	if req.Limit.Value <= 0 {
		req.Limit.Value = protocol.DefaultLimitValue
	}
	e := &entry{job: protocol.Job{
		ID:              d.nextID(now),
		Opponent:        req.Opponent,
		FEN:             req.FEN,
		Limit:           req.Limit,
		MultiPV:         max(req.MultiPV, 1),
		PreferredServer: req.PreferredServer,
		CreatedAt:       now,
		LastUpdate:      now,
	}}

	if id, ok := d.reg.Pick(req.PreferredServer); ok {
		e.job.Status = protocol.JobQueued
		e.job.RunningOn = id
		d.acquire(e, id)
		e.job.Log = append(e.job.Log, "Queued on "+id+".")
	} else {
		e.job.Status = protocol.JobPending
		e.job.Log = append(e.job.Log, logNoServer)
		d.log.Info("no server available, job pending",
			zap.String("job", e.job.ID), zap.String("preferred", req.PreferredServer))
	}

	d.jobs = append(d.jobs, e)
	d.index[e.job.ID] = e
	d.notifyAdded(e)
	return e.job.ID
}

// TryDispatchPending places every Pending job it can, oldest first, and
// returns how many were placed. It is safe to call at any time.
func (d *Dispatcher) TryDispatchPending() int {
	n := 0
	for _, e := range d.jobs {
		if awaitingDispatch(e) && d.dispatch(e) {
			n++
		}
	}
	return n
}

// DispatchNextPending places the oldest Pending job that can be placed.
func (d *Dispatcher) DispatchNextPending() bool {
	for _, e := range d.jobs {
		if awaitingDispatch(e) && d.dispatch(e) {
			return true
		}
	}
	return false
}

func awaitingDispatch(e *entry) bool {
	return e.job.Status == protocol.JobPending && e.job.RunningOn == ""
}

func (d *Dispatcher) dispatch(e *entry) bool {
	id, ok := d.reg.Pick(e.job.PreferredServer)
	if !ok {
		return false
	}
	e.job.Status = protocol.JobQueued
	e.job.RunningOn = id
	e.job.LastUpdate = d.nowFunc()
	d.acquire(e, id)
	e.job.Log = append(e.job.Log, "Dispatched to "+id+".")
	d.log.Debug("job dispatched", zap.String("job", e.job.ID), zap.String("server", id))
	d.notifyUpdated(e)
	return true
}

// RequestStop marks a job Stopped. The cancel notice to the server is sent
// by whoever observes the update. Returns false for unknown or already
// terminal jobs.
func (d *Dispatcher) RequestStop(id string) bool {
	e, ok := d.index[id]
	if !ok || e.job.Status.IsTerminal() {
		return false
	}
	now := d.nowFunc()
	e.job.Status = protocol.JobStopped
	if e.job.FinishedAt.IsZero() {
		e.job.FinishedAt = now
	}
	e.job.LastUpdate = now
	e.job.Log = append(e.job.Log, logStopped)
	d.release(e)

	d.persist(e)
	d.notifyUpdated(e)
	d.TryDispatchPending()
	return true
}

// ApplyRemoteUpdate folds a progress report into a job. Unknown ids are
// ignored. A job that is already terminal keeps its status but still
// merges late results. The first transition into a terminal status frees
// the job's capacity and immediately retries pending dispatch.
func (d *Dispatcher) ApplyRemoteUpdate(id string, u RemoteUpdate) bool {
	e, ok := d.index[id]
	if !ok {
		return false
	}
	now := d.nowFunc()
	wasTerminal := e.job.Status.IsTerminal()
	if !wasTerminal {
		if u.Status == protocol.JobRunning && e.job.StartedAt.IsZero() {
			e.job.StartedAt = now
		}
		if u.Status.IsTerminal() && e.job.FinishedAt.IsZero() {
			e.job.FinishedAt = now
		}
		e.job.Status = u.Status
	}
	merge.Snapshot(&e.job.Snapshot, u.Snapshot)
	e.job.LastUpdate = now
	if u.LogLine != "" {
		e.job.Log = append(e.job.Log, u.LogLine)
	}

	justFinished := !wasTerminal && e.job.Status.IsTerminal()
	if justFinished {
		d.release(e)
	}
	d.notifyUpdated(e)
	if e.job.Status.IsTerminal() {
		d.persist(e)
	}
	if justFinished {
		d.TryDispatchPending()
	}
	return true
}

// UpsertRemoteJob reconciles a job reported by a server after (re)connect.
// A known job takes the remote's fields, except that the local pin is kept,
// a terminal local status is never reopened, and the log is only replaced by
// a remote tail at least as long. An unknown job is appended as discovered.
// Pending dispatch is retried either way.
func (d *Dispatcher) UpsertRemoteJob(remote protocol.Job) {
	if remote.ID == "" {
		return
	}
	now := d.nowFunc()
	remote = remote.Clone()
	remote.MultiPV = max(remote.MultiPV, 1)
	if remote.LastUpdate.IsZero() {
		remote.LastUpdate = now
	}

	e, known := d.index[remote.ID]
	if known {
		old := e.job
		remote.PreferredServer = old.PreferredServer
		if remote.CreatedAt.IsZero() {
			remote.CreatedAt = old.CreatedAt
		}
		if remote.StartedAt.IsZero() {
			remote.StartedAt = old.StartedAt
		}
		if old.Status.IsTerminal() && !remote.Status.IsTerminal() {
			remote.Status = old.Status
			remote.FinishedAt = old.FinishedAt
		}
		if remote.FinishedAt.IsZero() {
			remote.FinishedAt = old.FinishedAt
		}
		if len(old.Log) > 0 && len(remote.Log) < len(old.Log) {
			remote.Log = old.Log
		}
		e.job = remote
		d.reconcileSlot(e)
		d.notifyUpdated(e)
	} else {
		if remote.CreatedAt.IsZero() {
			remote.CreatedAt = now
		}
		e = &entry{job: remote}
		d.reconcileSlot(e)
		d.jobs = append(d.jobs, e)
		d.index[remote.ID] = e
		d.notifyAdded(e)
	}

	if e.job.Status.IsTerminal() {
		d.persist(e)
	}
	d.TryDispatchPending()
}

// reconcileSlot makes the held capacity match where the job now runs.
func (d *Dispatcher) reconcileSlot(e *entry) {
	if e.job.Status.IsTerminal() || e.job.RunningOn == "" {
		d.release(e)
		return
	}
	if e.slot != e.job.RunningOn {
		d.acquire(e, e.job.RunningOn)
	}
}

// RemoveJobAtIndex drops the job at position i, freeing any capacity it
// still holds, and retries pending dispatch. Out-of-range indexes are
// ignored.
func (d *Dispatcher) RemoveJobAtIndex(i int) bool {
	if i < 0 || i >= len(d.jobs) {
		return false
	}
	e := d.jobs[i]
	d.release(e)
	if e.job.Status.IsTerminal() {
		d.persist(e)
	}
	d.jobs = slices.Delete(d.jobs, i, i+1)
	delete(d.index, e.job.ID)
	d.notifyRemoved(e)
	d.TryDispatchPending()
	return true
}

// RemoveJob is RemoveJobAtIndex by id.
func (d *Dispatcher) RemoveJob(id string) bool {
	return d.RemoveJobAtIndex(d.IndexOf(id))
}

// --- Internals ---

// nextID returns "job-<millis>-<seq>"; seq disambiguates ids minted in the
// same millisecond, and a clock that steps backwards keeps the last value.
func (d *Dispatcher) nextID(now time.Time) string {
	for {
		ms := now.UnixMilli()
		if ms <= d.lastIDMillis {
			d.idSeq++
		} else {
			d.lastIDMillis = ms
			d.idSeq = 0
		}
		id := fmt.Sprintf("job-%d-%d", d.lastIDMillis, d.idSeq)
		if _, taken := d.index[id]; !taken {
			return id
		}
	}
}

func (d *Dispatcher) acquire(e *entry, serverID string) {
	d.release(e)
	if d.reg.Reserve(serverID) {
		e.slot = serverID
	}
}

func (d *Dispatcher) release(e *entry) {
	if e.slot == "" {
		return
	}
	d.reg.Release(e.slot)
	e.slot = ""
}

func (d *Dispatcher) persist(e *entry) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.history.SaveJob(ctx, e.job.Clone()); err != nil {
		d.log.Warn("persist job", zap.String("job", e.job.ID), zap.Error(err))
	}
}

func (d *Dispatcher) notifyAdded(e *entry) {
	for _, o := range d.observers {
		o.JobAdded(e.job.Clone())
	}
}

func (d *Dispatcher) notifyUpdated(e *entry) {
	for _, o := range d.observers {
		o.JobUpdated(e.job.Clone())
	}
}

func (d *Dispatcher) notifyRemoved(e *entry) {
	for _, o := range d.observers {
		o.JobRemoved(e.job.Clone())
	}
}
