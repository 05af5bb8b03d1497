package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/google/uuid"
)

// RequestError is a request the daemon refused or failed.
type RequestError struct {
	Op     Op
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Detail)
}

// Client talks to a daemon's control socket.
type Client struct {
	SocketPath string
}

// NewClient returns a client for socketPath.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath}
}

// Do sends req and waits for the response. A request without an id gets a
// fresh one. A refused request returns the response and a *RequestError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("no response received")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != req.ID {
		return Response{}, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if !resp.OK {
		return resp, &RequestError{Op: req.Op, Detail: resp.Detail}
	}
	return resp, nil
}

// Jobs lists the daemon's active jobs.
func (c *Client) Jobs(ctx context.Context) ([]protocol.Job, error) {
	resp, err := c.Do(ctx, Request{Op: OpJobs})
	return resp.Jobs, err
}

// Servers lists the daemon's servers with runtime state.
func (c *Client) Servers(ctx context.Context) ([]protocol.ServerInfo, error) {
	resp, err := c.Do(ctx, Request{Op: OpServers})
	return resp.Servers, err
}

// Submit enqueues a job and returns it as placed.
func (c *Client) Submit(ctx context.Context, job JobRequest) (protocol.Job, error) {
	resp, err := c.Do(ctx, Request{Op: OpSubmit, Job: &job})
	if err != nil {
		return protocol.Job{}, err
	}
	if resp.Job == nil {
		return protocol.Job{ID: resp.JobID}, nil
	}
	return *resp.Job, nil
}

// JobOp sends stop, remove or fetch for one job.
func (c *Client) JobOp(ctx context.Context, op Op, jobID string) error {
	_, err := c.Do(ctx, Request{Op: op, JobID: jobID})
	return err
}

// SetServerEnabled enables or disables a server.
func (c *Client) SetServerEnabled(ctx context.Context, serverID string, enabled bool) error {
	op := OpDisable
	if enabled {
		op = OpEnable
	}
	_, err := c.Do(ctx, Request{Op: op, ServerID: serverID})
	return err
}
