// Package registry owns the server roster and its runtime health and
// capacity, and picks the server a job should run on.
//
// A Registry is not safe for concurrent use. It is owned by the cluster
// loop, which serializes every call.
package registry

import (
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// Report is an authoritative runtime report for one server.
type Report struct {
	Status        protocol.ServerStatus
	RunningJobs   int
	MaxJobs       int
	ThreadsPerJob int
	LogicalCores  int
}

// Registry holds servers in roster order.
type Registry struct {
	servers []protocol.ServerInfo
	index   map[string]int
	roster  map[string]protocol.ServerInfo // last roster entry per id
	nowFunc func() time.Time
}

// New copies servers into a registry and resets their runtime state to
// Unknown with no running jobs. Entries with an empty or duplicate id are
// dropped.
func New(servers []protocol.ServerInfo) *Registry {
	r := &Registry{
		index:   make(map[string]int, len(servers)),
		roster:  make(map[string]protocol.ServerInfo, len(servers)),
		nowFunc: time.Now,
	}
	for _, s := range servers {
		if s.ID == "" {
			continue
		}
		if _, dup := r.index[s.ID]; dup {
			continue
		}
		r.index[s.ID] = len(r.servers)
		r.roster[s.ID] = s
		r.servers = append(r.servers, s)
	}
	now := r.nowFunc()
	for i := range r.servers {
		s := &r.servers[i]
		s.Runtime = protocol.ServerRuntime{
			Status:   protocol.ServerUnknown,
			MaxJobs:  s.MaxJobs,
			LastSeen: now,
		}
		s.RecomputeLoad()
	}
	return r
}

func (r *Registry) lookup(id string) *protocol.ServerInfo {
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return &r.servers[i]
}

// Servers returns a copy of every server in roster order.
func (r *Registry) Servers() []protocol.ServerInfo {
	out := make([]protocol.ServerInfo, len(r.servers))
	copy(out, r.servers)
	return out
}

// Server returns a copy of one server.
func (r *Registry) Server(id string) (protocol.ServerInfo, bool) {
	s := r.lookup(id)
	if s == nil {
		return protocol.ServerInfo{}, false
	}
	return *s, true
}

// IDs returns server ids in roster order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.servers))
	for i := range r.servers {
		ids[i] = r.servers[i].ID
	}
	return ids
}

// IsAvailable reports whether a new job may be placed on server id.
// Degraded servers stay eligible while they have free capacity.
func (r *Registry) IsAvailable(id string) bool {
	s := r.lookup(id)
	return s != nil && isAvailable(s)
}

func isAvailable(s *protocol.ServerInfo) bool {
	if !s.Enabled || s.Runtime.Status == protocol.ServerOffline {
		return false
	}
	limit := s.EffectiveMaxJobs()
	return limit <= 0 || s.Runtime.RunningJobs < limit
}

func loadRatio(s *protocol.ServerInfo) float64 {
	limit := s.EffectiveMaxJobs()
	if limit <= 0 {
		return 0
	}
	return float64(s.Runtime.RunningJobs) / float64(limit)
}

// Pick chooses a server for a new job. An available preferred server that is
// Online or Unknown wins outright. Otherwise the least loaded available
// Online server is chosen, then the least loaded Unknown one; ties go to the
// first in roster order.
func (r *Registry) Pick(preferred string) (string, bool) {
	if preferred != "" {
		if s := r.lookup(preferred); s != nil && isAvailable(s) &&
			(s.Runtime.Status == protocol.ServerOnline || s.Runtime.Status == protocol.ServerUnknown) {
			return s.ID, true
		}
	}
	for _, tier := range []protocol.ServerStatus{protocol.ServerOnline, protocol.ServerUnknown} {
		if id, ok := r.leastLoaded(tier); ok {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) leastLoaded(status protocol.ServerStatus) (string, bool) {
	best := -1
	bestRatio := 0.0
	for i := range r.servers {
		s := &r.servers[i]
		if s.Runtime.Status != status || !isAvailable(s) {
			continue
		}
		ratio := loadRatio(s)
		if best < 0 || ratio < bestRatio {
			best, bestRatio = i, ratio
		}
	}
	if best < 0 {
		return "", false
	}
	return r.servers[best].ID, true
}

// UpdateRuntime applies an authoritative report. A reported max > 0 also
// replaces the configured capacity; threads and cores are adopted only when
// reported. Returns false for an unknown id.
func (r *Registry) UpdateRuntime(id string, rep Report) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	s.Runtime.Status = rep.Status
	s.Runtime.RunningJobs = max(rep.RunningJobs, 0)
	if rep.MaxJobs > 0 {
		s.Runtime.MaxJobs = rep.MaxJobs
		s.MaxJobs = rep.MaxJobs
	} else {
		s.Runtime.MaxJobs = s.MaxJobs
	}
	if rep.ThreadsPerJob > 0 {
		s.ThreadsPerJob = rep.ThreadsPerJob
	}
	if rep.LogicalCores > 0 {
		s.Runtime.LogicalCores = rep.LogicalCores
		s.Cores = rep.LogicalCores
	}
	s.RecomputeLoad()
	s.Runtime.LastSeen = r.nowFunc()
	return true
}

// MarkOffline records a lost connection: Offline with nothing running.
func (r *Registry) MarkOffline(id string) bool {
	return r.UpdateRuntime(id, Report{Status: protocol.ServerOffline})
}

// Reserve optimistically accounts one more running job on id.
func (r *Registry) Reserve(id string) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	s.Runtime.RunningJobs++
	s.RecomputeLoad()
	return true
}

// Release gives back one running job on id, never going below zero.
func (r *Registry) Release(id string) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	s.Runtime.RunningJobs = max(s.Runtime.RunningJobs-1, 0)
	s.RecomputeLoad()
	return true
}

// SetEnabled toggles whether id takes new jobs.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	s.Enabled = enabled
	return true
}

// ApplyRoster refreshes the configured fields of known servers from an
// edited roster, keeping their runtime state. Capacity a server reported
// stays in force unless the roster changed that field since it was last
// applied. Servers not present in the registry are returned so the caller
// can report them; they are not added.
func (r *Registry) ApplyRoster(servers []protocol.ServerInfo) (unknown []string) {
	for _, in := range servers {
		s := r.lookup(in.ID)
		if s == nil {
			unknown = append(unknown, in.ID)
			continue
		}
		prev := r.roster[in.ID]
		r.roster[in.ID] = in

		s.Name = in.Name
		s.Enabled = in.Enabled
		if in.ThreadsPerJob != prev.ThreadsPerJob {
			s.ThreadsPerJob = in.ThreadsPerJob
		}
		if in.Cores != prev.Cores {
			s.Cores = in.Cores
		}
		if in.MaxJobs != prev.MaxJobs {
			s.MaxJobs = in.MaxJobs
			s.Runtime.MaxJobs = in.MaxJobs
		}
		s.RecomputeLoad()
	}
	return unknown
}
