package cluster

import (
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"go.uber.org/zap"
)

// --- Job events → wire ---
//
// These run on the loop, inside dispatcher calls. A job is submitted once
// per server it lands on; remote progress is never echoed back.

// JobAdded implements dispatcher.Observer.
func (c *Controller) JobAdded(job protocol.Job) {
	c.maybeSubmit(job)
}

// JobUpdated implements dispatcher.Observer.
func (c *Controller) JobUpdated(job protocol.Job) {
	if job.Status == protocol.JobStopped {
		c.maybeCancel(job)
		return
	}
	c.maybeSubmit(job)
}

// JobRemoved implements dispatcher.Observer.
func (c *Controller) JobRemoved(job protocol.Job) {
	if !job.Status.IsTerminal() && job.RunningOn != "" {
		if err := c.sendTo(job.RunningOn, protocol.NewCancel(job.ID)); err != nil {
			c.log.Debug("cancel on remove not sent", zap.String("job", job.ID), zap.Error(err))
		}
	}
	delete(c.submitted, job.ID)
	delete(c.cancelled, job.ID)
}

func (c *Controller) maybeSubmit(job protocol.Job) {
	if job.Status != protocol.JobQueued || job.RunningOn == "" {
		return
	}
	if c.submitted[job.ID] == job.RunningOn {
		return
	}
	c.submit(job)
}

func (c *Controller) submit(job protocol.Job) {
	if err := c.sendTo(job.RunningOn, protocol.NewSubmit(job)); err != nil {
		c.log.Debug("submit deferred until ready", zap.String("job", job.ID), zap.String("server", job.RunningOn), zap.Error(err))
		return
	}
	c.submitted[job.ID] = job.RunningOn
}

func (c *Controller) maybeCancel(job protocol.Job) {
	if job.RunningOn == "" || c.cancelled[job.ID] {
		return
	}
	if err := c.sendTo(job.RunningOn, protocol.NewCancel(job.ID)); err != nil {
		c.log.Debug("cancel not sent", zap.String("job", job.ID), zap.String("server", job.RunningOn), zap.Error(err))
		return
	}
	c.cancelled[job.ID] = true
}

// --- Session events ---

// SessionReady implements session.Handler.
func (c *Controller) SessionReady(serverID string) {
	c.post(func() { c.onReady(serverID) })
}

// SessionMessage implements session.Handler.
func (c *Controller) SessionMessage(serverID string, msg protocol.Message) {
	c.post(func() { c.onMessage(serverID, msg) })
}

// SessionClosed implements session.Handler.
func (c *Controller) SessionClosed(serverID string, err error) {
	c.post(func() { c.onClosed(serverID, err) })
}

// onReady resynchronizes with a server after any connect or reconnect, then
// resends every local job that should be running there. Servers ignore ids
// they already know.
func (c *Controller) onReady(serverID string) {
	c.log.Info("server link up", zap.String("server", serverID))
	c.linkUp[serverID] = true
	for _, o := range c.cfg.ServerObservers {
		o.ServerOnline(serverID)
	}

	if err := c.sendTo(serverID, protocol.NewJobsListRequest(c.cfg.JobsListLimit)); err != nil {
		c.log.Warn("jobs_list request failed", zap.String("server", serverID), zap.Error(err))
	}
	for _, job := range c.jobs.Jobs() {
		if job.RunningOn != serverID || job.Status.IsTerminal() {
			continue
		}
		c.submit(job)
	}
}

// onClosed marks the server Offline with nothing running. Repeated failed
// reconnects are announced once.
func (c *Controller) onClosed(serverID string, err error) {
	up, known := c.linkUp[serverID]
	c.reg.MarkOffline(serverID)
	for id, srv := range c.submitted {
		if srv == serverID {
			delete(c.submitted, id)
		}
	}
	if known && !up {
		c.log.Debug("server still offline", zap.String("server", serverID), zap.Error(err))
		return
	}
	c.linkUp[serverID] = false
	c.log.Warn("server link down", zap.String("server", serverID), zap.Error(err))
	for _, o := range c.cfg.ServerObservers {
		o.ServerOffline(serverID, err)
	}
}

// --- Inbound messages ---

func (c *Controller) onMessage(serverID string, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgJobUpdate:
		c.handleJobUpdate(serverID, msg)
	case protocol.MsgServerStatus:
		c.handleServerStatus(serverID, msg)
	case protocol.MsgJobsList:
		for _, wj := range msg.Jobs {
			c.reconcile(serverID, wj)
		}
	case protocol.MsgJobState:
		if msg.Job != nil {
			c.reconcile(serverID, *msg.Job)
		}
	default:
		c.log.Debug("ignoring message", zap.String("server", serverID), zap.String("type", string(msg.Type)))
	}
}

func (c *Controller) handleJobUpdate(serverID string, msg protocol.Message) {
	if msg.JobID == "" {
		c.log.Debug("job_update without job_id", zap.String("server", serverID))
		return
	}
	update := jobUpdateFromWire(msg)
	if !c.jobs.ApplyRemoteUpdate(msg.JobID, update) {
		c.log.Debug("update for unknown job", zap.String("server", serverID), zap.String("job", msg.JobID))
	}
}

func (c *Controller) handleServerStatus(serverID string, msg protocol.Message) {
	rep := serverReportFromWire(msg)
	if !c.reg.UpdateRuntime(serverID, rep) {
		return
	}
	c.jobs.TryDispatchPending()
}

// reconcile folds one server-reported job into the local set. A job the
// user stopped that the server still runs gets its cancel again.
func (c *Controller) reconcile(serverID string, wj protocol.WireJob) {
	remote, ok := jobFromWire(wj, serverID)
	if !ok {
		return
	}
	local, known := c.jobs.Job(remote.ID)
	if !remote.Status.IsTerminal() {
		c.submitted[remote.ID] = serverID
	}
	c.jobs.UpsertRemoteJob(remote)

	if known && local.Status == protocol.JobStopped && !remote.Status.IsTerminal() {
		if err := c.sendTo(serverID, protocol.NewCancel(remote.ID)); err != nil {
			c.log.Debug("re-cancel not sent", zap.String("job", remote.ID), zap.Error(err))
		}
	}
}
