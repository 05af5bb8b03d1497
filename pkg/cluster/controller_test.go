package cluster //nolint:testpackage // white-box tests drive the loop directly

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func enqueueReq() dispatcher.EnqueueRequest {
	return dispatcher.EnqueueRequest{
		Opponent: "Carlsen",
		FEN:      startFEN,
		Limit:    protocol.Limit{Type: protocol.LimitDepth, Value: 20},
		MultiPV:  1,
	}
}

func TestController_SubmitsOncePerPlacement(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 2))
	h.connect("s1")

	job := h.enqueue()
	if job.Status != protocol.JobQueued || job.RunningOn != "s1" {
		t.Fatalf("job = %v on %q, want Queued on s1", job.Status, job.RunningOn)
	}

	h.deliver("s1", statusMsg(job.ID, protocol.JobRunning))
	h.deliver("s1", protocol.Message{Type: protocol.MsgJobUpdate, JobID: job.ID, Status: ptr(int(protocol.JobRunning)), LogLine: "info depth 3"})

	submits := h.conns["s1"].sentOf(protocol.MsgJobSubmit)
	if len(submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(submits))
	}
	wj := submits[0].Job
	if wj == nil || wj.ID != job.ID || wj.FEN != startFEN || wj.LimitValue != 20 || wj.MultiPV != 1 {
		t.Errorf("submitted job = %+v", wj)
	}
}

func TestController_SubmitDeferredUntilReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))

	// Unknown servers are eligible before their first connect.
	job := h.enqueue()
	if job.RunningOn != "s1" {
		t.Fatalf("RunningOn = %q, want s1", job.RunningOn)
	}
	if n := len(h.conns["s1"].allSent()); n != 0 {
		t.Fatalf("sent %d messages before ready", n)
	}

	h.connect("s1")
	sent := h.conns["s1"].allSent()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want jobs_list then submit", sent)
	}
	if sent[0].Type != protocol.MsgJobsList || sent[0].Limit == nil || *sent[0].Limit != protocol.JobsListLimit {
		t.Errorf("first = %+v, want jobs_list limit %d", sent[0], protocol.JobsListLimit)
	}
	if sent[0].IncludeFinished == nil || !*sent[0].IncludeFinished {
		t.Errorf("jobs_list must include finished jobs")
	}
	if sent[1].Type != protocol.MsgJobSubmit || sent[1].Job.ID != job.ID {
		t.Errorf("second = %+v, want submit of %s", sent[1], job.ID)
	}
}

func TestController_ReadyResubmitsActiveJobsOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 3))
	h.connect("s1")

	running := h.enqueue()
	done := h.enqueue()
	h.deliver("s1", statusMsg(running.ID, protocol.JobRunning))
	h.deliver("s1", statusMsg(done.ID, protocol.JobFinished))

	h.disconnect("s1")
	h.connect("s1")

	var resubmitted []string
	for _, m := range h.conns["s1"].sentOf(protocol.MsgJobSubmit) {
		resubmitted = append(resubmitted, m.Job.ID)
	}
	want := []string{running.ID, done.ID, running.ID}
	if len(resubmitted) != len(want) {
		t.Fatalf("submits = %v, want %v", resubmitted, want)
	}
	for i := range want {
		if resubmitted[i] != want[i] {
			t.Fatalf("submits = %v, want %v", resubmitted, want)
		}
	}
	if n := len(h.conns["s1"].sentOf(protocol.MsgJobsList)); n != 2 {
		t.Errorf("jobs_list requests = %d, want 2", n)
	}
}

func TestController_StopSendsOneCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	job := h.enqueue()

	if err := h.c.Stop(h.ctx, job.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.c.Stop(h.ctx, job.ID); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	// A late update from the server does not reopen the job or re-cancel.
	h.deliver("s1", statusMsg(job.ID, protocol.JobRunning))

	cancels := h.conns["s1"].sentOf(protocol.MsgJobCancel)
	if len(cancels) != 1 || cancels[0].JobID != job.ID {
		t.Fatalf("cancels = %+v, want one for %s", cancels, job.ID)
	}
	if got := h.job(job.ID).Status; got != protocol.JobStopped {
		t.Errorf("status = %v, want Stopped", got)
	}
	if got := h.server("s1").Runtime.RunningJobs; got != 0 {
		t.Errorf("RunningJobs = %d, want 0 after stop", got)
	}

	var nf *protocol.JobNotFoundError
	if err := h.c.Stop(h.ctx, "job-missing"); !errors.As(err, &nf) {
		t.Errorf("Stop(unknown) = %v, want JobNotFoundError", err)
	}
}

func TestController_RemoveCancelsActiveJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 2))
	h.connect("s1")
	active := h.enqueue()
	finished := h.enqueue()
	h.deliver("s1", statusMsg(finished.ID, protocol.JobFinished))

	if err := h.c.Remove(h.ctx, active.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := h.c.Remove(h.ctx, finished.ID); err != nil {
		t.Fatalf("Remove finished: %v", err)
	}

	cancels := h.conns["s1"].sentOf(protocol.MsgJobCancel)
	if len(cancels) != 1 || cancels[0].JobID != active.ID {
		t.Fatalf("cancels = %+v, want one for %s", cancels, active.ID)
	}
	jobs, err := h.c.Jobs(h.ctx)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("Jobs = %v, %v; want empty", jobs, err)
	}
	var nf *protocol.JobNotFoundError
	if err := h.c.Remove(h.ctx, active.ID); !errors.As(err, &nf) {
		t.Errorf("second Remove = %v, want JobNotFoundError", err)
	}
}

func TestController_ServerStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		msg         protocol.Message
		wantStatus  protocol.ServerStatus
		wantRunning int
		wantMax     int
	}{
		{
			name:        "current fields",
			msg:         protocol.Message{Type: protocol.MsgServerStatus, Status: ptr(int(protocol.ServerDegraded)), RunningJobs: ptr(1), MaxJobs: ptr(4)},
			wantStatus:  protocol.ServerDegraded,
			wantRunning: 1,
			wantMax:     4,
		},
		{
			name:        "legacy fields",
			msg:         protocol.Message{Type: protocol.MsgServerStatus, Running: ptr(2), Max: ptr(3)},
			wantStatus:  protocol.ServerOnline,
			wantRunning: 2,
			wantMax:     3,
		},
		{
			name:        "current wins over legacy",
			msg:         protocol.Message{Type: protocol.MsgServerStatus, RunningJobs: ptr(1), Running: ptr(9), MaxJobs: ptr(2), Max: ptr(9)},
			wantStatus:  protocol.ServerOnline,
			wantRunning: 1,
			wantMax:     2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil, server("s1", 1))
			h.connect("s1")
			h.deliver("s1", tt.msg)

			s := h.server("s1")
			if s.Runtime.Status != tt.wantStatus || s.Runtime.RunningJobs != tt.wantRunning || s.Runtime.MaxJobs != tt.wantMax {
				t.Errorf("runtime = %+v, want status %v running %d max %d", s.Runtime, tt.wantStatus, tt.wantRunning, tt.wantMax)
			}
		})
	}
}

func TestController_ServerStatusFreesCapacity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	first := h.enqueue()
	second := h.enqueue()
	if second.Status != protocol.JobPending {
		t.Fatalf("second = %v, want Pending", second.Status)
	}

	// The server reports more room than we assumed; pending work moves.
	h.deliver("s1", protocol.Message{Type: protocol.MsgServerStatus, RunningJobs: ptr(1), MaxJobs: ptr(2), Threads: ptr(4), LogicalCores: ptr(16)})

	got := h.job(second.ID)
	if got.Status != protocol.JobQueued || got.RunningOn != "s1" {
		t.Fatalf("second = %v on %q, want Queued on s1", got.Status, got.RunningOn)
	}
	s := h.server("s1")
	if s.ThreadsPerJob != 4 || s.Runtime.LogicalCores != 16 {
		t.Errorf("server = %+v, want threads 4 cores 16", s)
	}
	if n := len(h.conns["s1"].sentOf(protocol.MsgJobSubmit)); n != 2 {
		t.Errorf("submits = %d, want 2 (first %s and second)", n, first.ID)
	}
}

func TestController_JobUpdateEvaluation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	job := h.enqueue()

	h.deliver("s1", protocol.Message{
		Type: protocol.MsgJobUpdate, JobID: job.ID, Status: ptr(int(protocol.JobRunning)),
		Depth: ptr(18), SelDepth: ptr(24), ScoreCp: ptr(35), Nodes: ptr(int64(1_000_000)), NPS: ptr(int64(900_000)),
		PV: "e2e4 e7e5",
	})
	h.deliver("s1", protocol.Message{
		Type: protocol.MsgJobUpdate, JobID: job.ID, Status: ptr(int(protocol.JobRunning)),
		Depth: ptr(18), ScoreMate: ptr(-3), PV: "d2d4", MultiPV: ptr(2),
	})
	// Progress only: depth without score or pv leaves the snapshot alone.
	h.deliver("s1", protocol.Message{Type: protocol.MsgJobUpdate, JobID: job.ID, Depth: ptr(40), BestMove: "e2e4"})

	snap := h.job(job.ID).Snapshot
	if snap.Depth != 18 || snap.SelDepth != 24 || snap.Nodes != 1_000_000 || snap.PV != "e2e4 e7e5" {
		t.Errorf("flat fields = %+v", snap)
	}
	if snap.Score != protocol.CpScore(35) {
		t.Errorf("score = %v, want 35 cp", snap.Score)
	}
	if snap.BestMove != "e2e4" {
		t.Errorf("bestmove = %q", snap.BestMove)
	}
	if len(snap.Lines) != 2 || snap.Lines[0].MultiPV != 1 || snap.Lines[1].MultiPV != 2 {
		t.Fatalf("lines = %+v, want multipv 1 and 2", snap.Lines)
	}
	if snap.Lines[1].Score != protocol.MateScore(-3) || snap.Lines[1].PV != "d2d4" {
		t.Errorf("line 2 = %+v", snap.Lines[1])
	}
}

func TestController_JobUpdateStatusDefaults(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	job := h.enqueue()

	h.deliver("s1", protocol.Message{Type: protocol.MsgJobUpdate, JobID: job.ID, LogLine: "started"})
	if got := h.job(job.ID); got.Status != protocol.JobRunning || got.StartedAt.IsZero() {
		t.Fatalf("missing status: %v started %v, want Running with start time", got.Status, got.StartedAt)
	}
	h.deliver("s1", protocol.Message{Type: protocol.MsgJobUpdate, JobID: job.ID, Status: ptr(42)})
	if got := h.job(job.ID).Status; got != protocol.JobRunning {
		t.Errorf("out of range status: %v, want Running", got)
	}
	// Unknown jobs are ignored.
	h.deliver("s1", statusMsg("job-elsewhere", protocol.JobFinished))
	if jobs, _ := h.c.Jobs(h.ctx); len(jobs) != 1 {
		t.Errorf("jobs = %d, want 1", len(jobs))
	}
}

func TestController_FinishDispatchesNext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	first := h.enqueue()
	second := h.enqueue()

	h.deliver("s1", statusMsg(first.ID, protocol.JobRunning))
	h.deliver("s1", statusMsg(first.ID, protocol.JobFinished))

	got := h.job(second.ID)
	if got.Status != protocol.JobQueued || got.RunningOn != "s1" {
		t.Fatalf("second = %v on %q, want Queued on s1", got.Status, got.RunningOn)
	}
	submits := h.conns["s1"].sentOf(protocol.MsgJobSubmit)
	if len(submits) != 2 || submits[1].Job.ID != second.ID {
		t.Fatalf("submits = %+v, want first then second", submits)
	}
	if got := h.server("s1").Runtime.RunningJobs; got != 1 {
		t.Errorf("RunningJobs = %d, want 1", got)
	}
}

func TestController_JobsListReconcile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 4))
	h.connect("s1")
	local := h.enqueue()
	stopped := h.enqueue()
	if err := h.c.Stop(h.ctx, stopped.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h.deliver("s1", protocol.Message{
		Type: protocol.MsgJobsList,
		Jobs: []protocol.WireJob{
			{ID: local.ID, FEN: startFEN, LimitValue: 20, MultiPV: 1, Status: int(protocol.JobRunning),
				Snapshot: &protocol.WireSnapshot{Depth: 12, ScoreCp: ptr(20), PV: "e2e4"}},
			{ID: stopped.ID, FEN: startFEN, LimitValue: 20, MultiPV: 1, Status: int(protocol.JobRunning)},
			{ID: "job-remote", Opponent: "Nakamura", FEN: startFEN, LimitType: int(protocol.LimitNodes), LimitValue: 5000,
				Status: int(protocol.JobRunning), CreatedAtMs: 1_700_000_000_000,
				Lines: []protocol.WireLine{{MultiPV: 2, Depth: 9}, {MultiPV: 1, Depth: 10}}, LogTail: []string{"a", "", "b"}},
			{ID: ""},
		},
	})

	if got := h.job(local.ID); got.Status != protocol.JobRunning || got.Snapshot.Depth != 12 {
		t.Errorf("local = %v depth %d, want Running depth 12", got.Status, got.Snapshot.Depth)
	}
	if got := h.job(stopped.ID).Status; got != protocol.JobStopped {
		t.Errorf("stopped job reopened as %v", got)
	}

	remote := h.job("job-remote")
	if remote.RunningOn != "s1" || remote.Opponent != "Nakamura" || remote.Limit.Type != protocol.LimitNodes {
		t.Errorf("remote = %+v", remote)
	}
	if remote.CreatedAt.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("created = %v", remote.CreatedAt)
	}
	if len(remote.Snapshot.Lines) != 2 || remote.Snapshot.Lines[0].MultiPV != 1 {
		t.Errorf("lines = %+v, want sorted top-level lines", remote.Snapshot.Lines)
	}
	if len(remote.Log) != 2 {
		t.Errorf("log = %q, want blank lines dropped", remote.Log)
	}

	// Discovered and known jobs are not submitted back; the stopped one is
	// cancelled again.
	if n := len(h.conns["s1"].sentOf(protocol.MsgJobSubmit)); n != 2 {
		t.Errorf("submits = %d, want only the two enqueued", n)
	}
	cancels := h.conns["s1"].sentOf(protocol.MsgJobCancel)
	if len(cancels) != 2 || cancels[1].JobID != stopped.ID {
		t.Errorf("cancels = %+v, want stop then re-cancel of %s", cancels, stopped.ID)
	}
	if got := h.server("s1").Runtime.RunningJobs; got != 2 {
		t.Errorf("RunningJobs = %d, want 2 (local and discovered)", got)
	}
}

func TestController_LargeJobsListReconcilesEveryItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 4))
	h.connect("s1")

	tail := make([]string, 200)
	for i := range tail {
		tail[i] = fmt.Sprintf("info depth %d score cp 20 pv e2e4 e7e5", i)
	}
	items := make([]protocol.WireJob, protocol.JobsListLimit)
	for i := range items {
		status := protocol.JobFinished
		if i%50 == 0 {
			status = protocol.JobRunning
		}
		items[i] = protocol.WireJob{ID: fmt.Sprintf("job-9-%d", i), FEN: startFEN, LimitValue: 20, MultiPV: 1,
			Status: int(status), LogTail: tail}
	}
	h.deliver("s1", protocol.Message{Type: protocol.MsgJobsList, Jobs: items})

	jobs, err := h.c.Jobs(h.ctx)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != len(items) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(items))
	}
	for i, j := range jobs {
		if j.ID != items[i].ID || len(j.Log) != 200 || j.RunningOn != "s1" {
			t.Fatalf("job %d = %s with %d log lines on %q", i, j.ID, len(j.Log), j.RunningOn)
		}
	}
	if got := h.server("s1").Runtime.RunningJobs; got != 4 {
		t.Errorf("RunningJobs = %d, want 4 discovered active jobs", got)
	}
}

func TestController_FetchJobState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	job := h.enqueue()

	if err := h.c.Fetch(h.ctx, job.ID); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	gets := h.conns["s1"].sentOf(protocol.MsgJobGet)
	if len(gets) != 1 || gets[0].JobID != job.ID {
		t.Fatalf("job_get = %+v", gets)
	}

	h.deliver("s1", protocol.Message{Type: protocol.MsgJobState, Job: &protocol.WireJob{
		ID: job.ID, FEN: startFEN, LimitValue: 20, MultiPV: 1, Status: int(protocol.JobFinished),
		Snapshot: &protocol.WireSnapshot{Depth: 20, BestMove: "e2e4"},
	}})
	got := h.job(job.ID)
	if got.Status != protocol.JobFinished || got.Snapshot.BestMove != "e2e4" {
		t.Errorf("job = %v best %q, want Finished e2e4", got.Status, got.Snapshot.BestMove)
	}

	var nf *protocol.JobNotFoundError
	if err := h.c.Fetch(h.ctx, "job-missing"); !errors.As(err, &nf) {
		t.Errorf("Fetch(unknown) = %v, want JobNotFoundError", err)
	}
}

func TestController_DisconnectMarksOffline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1), server("s2", 1))
	h.connect("s1")
	h.connect("s2")
	h.deliver("s1", protocol.Message{Type: protocol.MsgServerStatus, RunningJobs: ptr(1), MaxJobs: ptr(1)})

	h.disconnect("s1")
	h.c.SessionClosed("s1", errors.New("dial refused"))
	h.sync()

	s := h.server("s1")
	if s.Runtime.Status != protocol.ServerOffline || s.Runtime.RunningJobs != 0 {
		t.Fatalf("s1 runtime = %+v, want Offline with 0 running", s.Runtime)
	}
	online, offline := h.events.counts()
	if online != 2 || offline != 1 {
		t.Errorf("online/offline events = %d/%d, want 2/1", online, offline)
	}

	job := h.enqueue()
	if job.RunningOn != "s2" {
		t.Errorf("RunningOn = %q, want s2 while s1 is offline", job.RunningOn)
	}
	pinned := h.enqueue("s1")
	if pinned.Status != protocol.JobPending {
		t.Errorf("pinned to offline server: %v, want Pending", pinned.Status)
	}
}

func TestController_SetServerEnabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")

	if err := h.c.SetServerEnabled(h.ctx, "s1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	job := h.enqueue()
	if job.Status != protocol.JobPending {
		t.Fatalf("job = %v, want Pending with s1 disabled", job.Status)
	}
	if err := h.c.SetServerEnabled(h.ctx, "s1", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := h.job(job.ID); got.RunningOn != "s1" {
		t.Errorf("RunningOn = %q after enable, want s1", got.RunningOn)
	}
	var nf *protocol.ServerNotFoundError
	if err := h.c.SetServerEnabled(h.ctx, "nope", true); !errors.As(err, &nf) {
		t.Errorf("unknown server = %v, want ServerNotFoundError", err)
	}
}

func TestController_ApplyRoster(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")
	h.enqueue()
	second := h.enqueue()

	unknown, err := h.c.ApplyRoster(h.ctx, []protocol.ServerInfo{server("s1", 2), server("s9", 1)})
	if err != nil {
		t.Fatalf("ApplyRoster: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "s9" {
		t.Errorf("unknown = %v, want [s9]", unknown)
	}
	if got := h.job(second.ID); got.RunningOn != "s1" {
		t.Errorf("second RunningOn = %q, want s1 after capacity grew", got.RunningOn)
	}
}

func TestController_KeepalivePingsAndReconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.PingInterval = 10 * time.Millisecond }, server("up", 1), server("down", 1))
	h.connect("up")

	waitFor(t, func() bool {
		return len(h.conns["up"].sentOf(protocol.MsgPing)) >= 2 && h.conns["down"].connectCount() >= 3
	}, 5*time.Second)
	before := h.conns["up"].connectCount()
	time.Sleep(50 * time.Millisecond)
	if after := h.conns["up"].connectCount(); after != before {
		t.Errorf("ready session kept reconnecting: %d -> %d", before, after)
	}
}

func TestController_BackstopDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.DispatchInterval = 10 * time.Millisecond }, server("s1", 1))
	h.connect("s1")
	h.deliver("s1", protocol.Message{Type: protocol.MsgServerStatus, Status: ptr(int(protocol.ServerOffline))})
	job := h.enqueue()
	if job.Status != protocol.JobPending {
		t.Fatalf("job = %v, want Pending", job.Status)
	}

	// Bring the server back without going through a dispatching path.
	if err := h.c.call(h.ctx, func() {
		h.c.reg.UpdateRuntime("s1", serverReportFromWire(protocol.Message{}))
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.job(job.ID).RunningOn == "s1" }, 5*time.Second)
}

func TestController_EnqueueCompletesAfterDeadline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, server("s1", 1))
	h.connect("s1")

	// Hold the loop so the request sits queued past its deadline.
	release := make(chan struct{})
	h.c.post(func() { <-release })

	type result struct {
		job protocol.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		job, err := h.c.Enqueue(ctx, enqueueReq())
		done <- result{job, err}
	}()

	time.Sleep(60 * time.Millisecond)
	close(release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue did not return")
	}
	if res.err != nil {
		t.Fatalf("Enqueue = %v, want success once queued", res.err)
	}
	jobs, err := h.c.Jobs(h.ctx)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != res.job.ID {
		t.Errorf("jobs = %v, want only %q", jobs, res.job.ID)
	}
}

func TestController_CallsAfterStop(t *testing.T) {
	t.Parallel()
	c := New(Config{PingInterval: time.Hour, DispatchInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	if _, err := c.Jobs(ctx); err != nil {
		t.Fatalf("Jobs while running: %v", err)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := c.Jobs(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Jobs after stop = %v, want ErrClosed", err)
	}
	// Session events after stop are dropped, not blocked on.
	c.SessionReady("s1")
}
