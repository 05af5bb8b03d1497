package cluster

import (
	"context"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// Enqueue creates a job and returns a copy of it as placed.
func (c *Controller) Enqueue(ctx context.Context, req dispatcher.EnqueueRequest) (protocol.Job, error) {
	var job protocol.Job
	err := c.call(ctx, func() {
		id := c.jobs.Enqueue(req)
		job, _ = c.jobs.Job(id)
	})
	return job, err
}

// Stop marks a job Stopped; stopping a finished job is a no-op.
func (c *Controller) Stop(ctx context.Context, id string) error {
	var found bool
	err := c.call(ctx, func() {
		if _, found = c.jobs.Job(id); found {
			c.jobs.RequestStop(id)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return &protocol.JobNotFoundError{JobID: id}
	}
	return nil
}

// Remove drops a job from the active set.
func (c *Controller) Remove(ctx context.Context, id string) error {
	var removed bool
	err := c.call(ctx, func() { removed = c.jobs.RemoveJob(id) })
	if err != nil {
		return err
	}
	if !removed {
		return &protocol.JobNotFoundError{JobID: id}
	}
	return nil
}

// Jobs returns the active jobs in FIFO order.
func (c *Controller) Jobs(ctx context.Context) ([]protocol.Job, error) {
	var jobs []protocol.Job
	err := c.call(ctx, func() { jobs = c.jobs.Jobs() })
	return jobs, err
}

// Job returns one active job.
func (c *Controller) Job(ctx context.Context, id string) (protocol.Job, error) {
	var (
		job   protocol.Job
		found bool
	)
	err := c.call(ctx, func() { job, found = c.jobs.Job(id) })
	if err != nil {
		return protocol.Job{}, err
	}
	if !found {
		return protocol.Job{}, &protocol.JobNotFoundError{JobID: id}
	}
	return job, nil
}

// Servers returns the roster with runtime state.
func (c *Controller) Servers(ctx context.Context) ([]protocol.ServerInfo, error) {
	var servers []protocol.ServerInfo
	err := c.call(ctx, func() { servers = c.reg.Servers() })
	return servers, err
}

// SetServerEnabled toggles whether a server takes new jobs. Enabling a
// server retries pending dispatch.
func (c *Controller) SetServerEnabled(ctx context.Context, id string, enabled bool) error {
	var found bool
	err := c.call(ctx, func() {
		if found = c.reg.SetEnabled(id, enabled); found && enabled {
			c.jobs.TryDispatchPending()
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return &protocol.ServerNotFoundError{ServerID: id}
	}
	return nil
}

// ApplyRoster refreshes configured server fields from an edited roster and
// returns the ids it does not know; those need a restart to be added.
func (c *Controller) ApplyRoster(ctx context.Context, servers []protocol.ServerInfo) ([]string, error) {
	var unknown []string
	err := c.call(ctx, func() {
		unknown = c.reg.ApplyRoster(servers)
		c.jobs.TryDispatchPending()
	})
	return unknown, err
}

// Fetch asks the server running a job for its full state; the answer is
// reconciled like a jobs_list entry.
func (c *Controller) Fetch(ctx context.Context, id string) error {
	var sendErr error
	var found bool
	err := c.call(ctx, func() {
		var job protocol.Job
		if job, found = c.jobs.Job(id); !found {
			return
		}
		if job.RunningOn == "" {
			sendErr = &protocol.ServerUnreachableError{ServerID: "-", Reason: "job " + id + " is not on a server"}
			return
		}
		sendErr = c.sendTo(job.RunningOn, protocol.NewJobGet(id))
	})
	if err != nil {
		return err
	}
	if !found {
		return &protocol.JobNotFoundError{JobID: id}
	}
	return sendErr
}
