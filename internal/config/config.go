// Package config loads the application configuration: a TOML file in the
// application home plus environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables. A specific override beats both the file and the
// home directory.
const (
	EnvHome     = "SFCLUSTER_HOME"
	EnvConfig   = "SFCLUSTER_CONFIG"
	EnvServers  = "SFCLUSTER_SERVERS"
	EnvDB       = "SFCLUSTER_DB"
	EnvSocket   = "SFCLUSTER_SOCKET"
	EnvLogLevel = "SFCLUSTER_LOG_LEVEL"
)

// Duration is a time.Duration written as a string such as "3s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the application configuration. Paths are absolute after Load.
type Config struct {
	Home string `toml:"-"`
	File string `toml:"-"` // the file that was read, empty if none

	ServersFile      string   `toml:"servers_file"`
	HistoryDB        string   `toml:"history_db"`
	SocketPath       string   `toml:"socket_path"`
	PingInterval     Duration `toml:"ping_interval"`
	DispatchInterval Duration `toml:"dispatch_interval"`
	ReconnectRate    float64  `toml:"reconnect_rate"` // connect attempts per second per server
	JobsListLimit    int      `toml:"jobs_list_limit"`
	LogLevel         string   `toml:"log_level"`
	LogFormat        string   `toml:"log_format"` // console, json or empty for automatic
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ServersFile:      protocol.ServersFile,
		HistoryDB:        protocol.HistoryDB,
		SocketPath:       protocol.SocketFile,
		PingInterval:     Duration(3 * time.Second),
		DispatchInterval: Duration(2 * time.Second),
		ReconnectRate:    1,
		JobsListLimit:    protocol.JobsListLimit,
		LogLevel:         "info",
	}
}

func (c *Config) withDefaults() {
	d := Default()
	if c.ServersFile == "" {
		c.ServersFile = d.ServersFile
	}
	if c.HistoryDB == "" {
		c.HistoryDB = d.HistoryDB
	}
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = d.DispatchInterval
	}
	if c.ReconnectRate <= 0 {
		c.ReconnectRate = d.ReconnectRate
	}
	if c.JobsListLimit <= 0 {
		c.JobsListLimit = d.JobsListLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// ResolveHome returns SFCLUSTER_HOME or ~/.sfcluster.
func ResolveHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// Load resolves the home directory, reads the config file if there is one,
// applies environment overrides and makes every path absolute.
func Load() (Config, error) {
	home, err := ResolveHome()
	if err != nil {
		return Config{}, err
	}
	path := os.Getenv(EnvConfig)
	if path == "" {
		path = filepath.Join(home, protocol.ConfigFile)
	}
	return LoadFile(home, path)
}

// LoadFile is Load with an explicit home and file. A missing file yields the
// defaults.
func LoadFile(home, path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		cfg = Config{}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.File = path
	}

	cfg.Home = home
	applyEnv(&cfg)
	cfg.withDefaults()
	cfg.ServersFile = resolve(home, cfg.ServersFile)
	cfg.HistoryDB = resolve(home, cfg.HistoryDB)
	cfg.SocketPath = resolve(home, cfg.SocketPath)
	return cfg, nil
}

func applyEnv(c *Config) {
	for _, o := range []struct {
		key string
		dst *string
	}{
		{EnvServers, &c.ServersFile},
		{EnvDB, &c.HistoryDB},
		{EnvSocket, &c.SocketPath},
		{EnvLogLevel, &c.LogLevel},
	} {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

func resolve(home, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

// WriteDefault writes the default configuration to path unless a file is
// already there. It reports whether it wrote.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := toml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}
