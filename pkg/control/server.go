package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"go.uber.org/zap"
)

// Backend executes control operations. *cluster.Controller implements it.
type Backend interface {
	Enqueue(ctx context.Context, req dispatcher.EnqueueRequest) (protocol.Job, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Jobs(ctx context.Context) ([]protocol.Job, error)
	Servers(ctx context.Context) ([]protocol.ServerInfo, error)
	SetServerEnabled(ctx context.Context, id string, enabled bool) error
	Fetch(ctx context.Context, id string) error
}

const (
	requestTimeout = 5 * time.Second
	readTimeout    = 10 * time.Second
)

// Server answers control requests for a Backend.
type Server struct {
	socketPath string
	backend    Backend
	log        *zap.Logger

	wg sync.WaitGroup
}

// NewServer builds a server for socketPath. Nothing listens until Serve.
func NewServer(socketPath string, backend Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{socketPath: socketPath, backend: backend, log: log}
}

// Serve listens on the socket until ctx is done, then removes it. A socket
// file left by a dead daemon is replaced; a live one is an error.
func (s *Server) Serve(ctx context.Context) error {
	if err := cleanStaleSocket(s.socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket %s: %w", s.socketPath, err)
	}
	s.log.Info("control socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn("control accept", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(readTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxLineBytes)
	if !scanner.Scan() {
		return
	}

	var req Request
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp = Response{Detail: "malformed request: " + err.Error()}
	} else {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		resp = s.handle(reqCtx, req)
		cancel()
		resp.ID = req.ID
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("encode control response", zap.String("op", string(req.Op)), zap.Error(err))
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Debug("write control response", zap.String("op", string(req.Op)), zap.Error(err))
	}
}

func fail(err error) Response {
	return Response{Detail: err.Error()}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	s.log.Debug("control request", zap.String("id", req.ID), zap.String("op", string(req.Op)))

	switch req.Op {
	case OpSubmit:
		return s.submit(ctx, req.Job)

	case OpStop, OpRemove, OpFetch:
		if req.JobID == "" {
			return Response{Detail: string(req.Op) + ": job_id is required"}
		}
		var err error
		switch req.Op {
		case OpStop:
			err = s.backend.Stop(ctx, req.JobID)
		case OpRemove:
			err = s.backend.Remove(ctx, req.JobID)
		default:
			err = s.backend.Fetch(ctx, req.JobID)
		}
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, JobID: req.JobID}

	case OpJobs:
		jobs, err := s.backend.Jobs(ctx)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Jobs: jobs}

	case OpServers:
		servers, err := s.backend.Servers(ctx)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Servers: servers}

	case OpEnable, OpDisable:
		if req.ServerID == "" {
			return Response{Detail: string(req.Op) + ": server_id is required"}
		}
		if err := s.backend.SetServerEnabled(ctx, req.ServerID, req.Op == OpEnable); err != nil {
			return fail(err)
		}
		return Response{OK: true, Detail: fmt.Sprintf("server %s %sd", req.ServerID, req.Op)}

	default:
		return Response{Detail: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (s *Server) submit(ctx context.Context, jr *JobRequest) Response {
	if jr == nil || jr.FEN == "" {
		return Response{Detail: "submit: job with fen is required"}
	}
	limit := protocol.Limit{Type: protocol.LimitDepth, Value: jr.LimitValue}
	if jr.LimitType != "" {
		lt, err := protocol.ParseLimitType(jr.LimitType)
		if err != nil {
			return fail(err)
		}
		limit.Type = lt
	}

	job, err := s.backend.Enqueue(ctx, dispatcher.EnqueueRequest{
		Opponent:        jr.Opponent,
		FEN:             jr.FEN,
		Limit:           limit,
		MultiPV:         jr.MultiPV,
		PreferredServer: jr.Server,
	})
	if err != nil {
		return fail(err)
	}
	detail := "queued on " + job.RunningOn
	if job.RunningOn == "" {
		detail = "pending: no available server"
	}
	return Response{OK: true, JobID: job.ID, Job: &job, Detail: detail}
}

// cleanStaleSocket removes a socket file nobody is listening on. A socket
// that still accepts connections belongs to a running daemon.
func cleanStaleSocket(socketPath string) error {
	_, err := os.Stat(socketPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket %s: %w", socketPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dialer := net.Dialer{}
	conn, dialErr := dialer.DialContext(ctx, "unix", socketPath)
	if dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("another daemon is already running on %s", socketPath)
	}
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	return nil
}
