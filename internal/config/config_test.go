package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvHome, EnvConfig, EnvServers, EnvDB, EnvSocket, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.ServersFile != filepath.Join(home, "servers.yaml") ||
		cfg.HistoryDB != filepath.Join(home, "history.sqlite") ||
		cfg.SocketPath != filepath.Join(home, "sfcluster.sock") {
		t.Errorf("paths = %+v", cfg)
	}
	if time.Duration(cfg.PingInterval) != 3*time.Second || time.Duration(cfg.DispatchInterval) != 2*time.Second {
		t.Errorf("intervals = %v / %v", cfg.PingInterval, cfg.DispatchInterval)
	}
	if cfg.ReconnectRate != 1 || cfg.JobsListLimit != 200 || cfg.LogLevel != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")
	body := `
servers_file = "/etc/sfcluster/servers.json"
history_db = "data/history.sqlite"
ping_interval = "500ms"
reconnect_rate = 0.5
jobs_list_limit = 50
log_format = "json"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(home, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.File != path {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.ServersFile != "/etc/sfcluster/servers.json" {
		t.Errorf("absolute path changed: %q", cfg.ServersFile)
	}
	if cfg.HistoryDB != filepath.Join(home, "data", "history.sqlite") {
		t.Errorf("relative path not resolved: %q", cfg.HistoryDB)
	}
	if time.Duration(cfg.PingInterval) != 500*time.Millisecond {
		t.Errorf("ping = %v", cfg.PingInterval)
	}
	if time.Duration(cfg.DispatchInterval) != 2*time.Second {
		t.Errorf("unset dispatch_interval = %v, want default", cfg.DispatchInterval)
	}
	if cfg.ReconnectRate != 0.5 || cfg.JobsListLimit != 50 || cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	alt := filepath.Join(t.TempDir(), "alt.toml")
	if err := os.WriteFile(alt, []byte(`socket_path = "from-file.sock"`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvHome, home)
	t.Setenv(EnvConfig, alt)
	t.Setenv(EnvServers, "roster.yaml")
	t.Setenv(EnvDB, "/var/lib/sfc.sqlite")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != alt || cfg.SocketPath != filepath.Join(home, "from-file.sock") {
		t.Errorf("file not honored: %+v", cfg)
	}
	if cfg.ServersFile != filepath.Join(home, "roster.yaml") || cfg.HistoryDB != "/var/lib/sfc.sqlite" || cfg.LogLevel != "debug" {
		t.Errorf("env not honored: %+v", cfg)
	}

	t.Setenv(EnvSocket, "/tmp/x.sock")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/tmp/x.sock" {
		t.Errorf("socket env = %q", cfg.SocketPath)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	tests := map[string]string{
		"bad toml":     "servers_file = \n",
		"bad duration": `ping_interval = "soon"` + "\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(home, strings.ReplaceAll(name, " ", "_")+".toml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(home, path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	path := filepath.Join(home, "sub", "config.toml")

	wrote, err := WriteDefault(path)
	if err != nil || !wrote {
		t.Fatalf("WriteDefault = %v, %v", wrote, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ping_interval = '3s'") && !strings.Contains(string(data), `ping_interval = "3s"`) {
		t.Errorf("config = %s", data)
	}

	cfg, err := LoadFile(home, path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if time.Duration(cfg.PingInterval) != 3*time.Second {
		t.Errorf("reloaded ping = %v", cfg.PingInterval)
	}

	wrote, err = WriteDefault(path)
	if err != nil || wrote {
		t.Errorf("second WriteDefault = %v, %v; want no write", wrote, err)
	}
}
