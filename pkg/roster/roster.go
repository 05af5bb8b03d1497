// Package roster loads and saves the list of analysis servers. The file is
// YAML; JSON files load too, and a ".json" path is saved as JSON.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"gopkg.in/yaml.v3"
)

// Default is the roster used when no usable file exists.
func Default() []protocol.ServerInfo {
	return []protocol.ServerInfo{{
		ID:            "local-1",
		Name:          "Local SF #1",
		Host:          "127.0.0.1",
		Port:          9000,
		ThreadsPerJob: 1,
		MaxJobs:       1,
		Enabled:       true,
	}}
}

type file struct {
	Servers []entry `yaml:"servers" json:"servers"`
}

type entry struct {
	ID                string `yaml:"id" json:"id"`
	Name              string `yaml:"name,omitempty" json:"name,omitempty"`
	Host              string `yaml:"host" json:"host"`
	Port              int    `yaml:"port" json:"port"`
	Cores             int    `yaml:"cores,omitempty" json:"cores,omitempty"`
	ThreadsPerJob     int    `yaml:"threads_per_job,omitempty" json:"threads_per_job,omitempty"`
	MaxJobs           int    `yaml:"max_jobs,omitempty" json:"max_jobs,omitempty"`
	Enabled           *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TLSEnabled        bool   `yaml:"tls_enabled,omitempty" json:"tls_enabled,omitempty"`
	TLSServerName     string `yaml:"tls_server_name,omitempty" json:"tls_server_name,omitempty"`
	TLSCAFile         string `yaml:"tls_ca_file,omitempty" json:"tls_ca_file,omitempty"`
	TLSClientCertFile string `yaml:"tls_client_cert_file,omitempty" json:"tls_client_cert_file,omitempty"`
	TLSClientKeyFile  string `yaml:"tls_client_key_file,omitempty" json:"tls_client_key_file,omitempty"`
}

func (e entry) valid() bool {
	return e.ID != "" && e.Host != "" && e.Port > 0
}

func (e entry) server() protocol.ServerInfo {
	s := protocol.ServerInfo{
		ID:            e.ID,
		Name:          e.Name,
		Host:          e.Host,
		Port:          e.Port,
		Cores:         e.Cores,
		ThreadsPerJob: max(e.ThreadsPerJob, 1),
		MaxJobs:       max(e.MaxJobs, 1),
		Enabled:       e.Enabled == nil || *e.Enabled,
		TLS: protocol.TLSConfig{
			Enabled:    e.TLSEnabled,
			ServerName: e.TLSServerName,
			CAFile:     e.TLSCAFile,
			CertFile:   e.TLSClientCertFile,
			KeyFile:    e.TLSClientKeyFile,
		},
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	return s
}

func fromServer(s protocol.ServerInfo) entry {
	enabled := s.Enabled
	return entry{
		ID:                s.ID,
		Name:              s.Name,
		Host:              s.Host,
		Port:              s.Port,
		Cores:             s.Cores,
		ThreadsPerJob:     s.ThreadsPerJob,
		MaxJobs:           s.MaxJobs,
		Enabled:           &enabled,
		TLSEnabled:        s.TLS.Enabled,
		TLSServerName:     s.TLS.ServerName,
		TLSCAFile:         s.TLS.CAFile,
		TLSClientCertFile: s.TLS.CertFile,
		TLSClientKeyFile:  s.TLS.KeyFile,
	}
}

// Result is a loaded roster.
type Result struct {
	Servers   []protocol.ServerInfo
	Defaulted bool     // no usable file; Servers is Default()
	Skipped   []string // invalid entries, by id or position
}

// Load reads the roster at path. It never leaves the caller without
// servers: a missing file, a parse failure or a file with no valid entries
// yields the default roster. The error is non-nil only when the file exists
// but could not be used, so the caller can report it.
func Load(path string) (Result, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if errors.Is(err, fs.ErrNotExist) {
		return Result{Servers: Default(), Defaulted: true}, nil
	}
	if err != nil {
		return Result{Servers: Default(), Defaulted: true}, fmt.Errorf("read roster %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Result{Servers: Default(), Defaulted: true}, fmt.Errorf("parse roster %s: %w", path, err)
	}

	var res Result
	seen := make(map[string]bool, len(f.Servers))
	for i, e := range f.Servers {
		if !e.valid() || seen[e.ID] {
			name := e.ID
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			res.Skipped = append(res.Skipped, name)
			continue
		}
		seen[e.ID] = true
		res.Servers = append(res.Servers, e.server())
	}
	if len(res.Servers) == 0 {
		res.Servers = Default()
		res.Defaulted = true
	}
	return res, nil
}

// Save writes servers to path atomically. Runtime state is not saved.
func Save(path string, servers []protocol.ServerInfo) error {
	f := file{Servers: make([]entry, 0, len(servers))}
	for _, s := range servers {
		f.Servers = append(f.Servers, fromServer(s))
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(f, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create roster dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp roster: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp roster: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace roster %s: %w", path, err)
	}
	return nil
}
