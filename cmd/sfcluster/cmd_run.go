package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/internal/config"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/cluster"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/eventlog"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/history"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/roster"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// newInitCmd creates the "sfcluster init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and server roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := config.ResolveHome()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			cfgPath := os.Getenv(config.EnvConfig)
			if cfgPath == "" {
				cfgPath = filepath.Join(home, protocol.ConfigFile)
			}
			wrote, err := config.WriteDefault(cfgPath)
			if err != nil {
				return err
			}
			reportInit(w, cfgPath, wrote)

			cfg, err := config.LoadFile(home, cfgPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.ServersFile); err == nil {
				reportInit(w, cfg.ServersFile, false)
				return nil
			}
			if err := roster.Save(cfg.ServersFile, roster.Default()); err != nil {
				return err
			}
			reportInit(w, cfg.ServersFile, true)
			return nil
		},
	}
}

func reportInit(w io.Writer, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(w, "wrote %s\n", path)
	} else {
		fmt.Fprintf(w, "kept existing %s\n", path)
	}
}

// newRunCmd creates the "sfcluster run" subcommand: the daemon.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher daemon in the foreground",
		Long: `Connects to every server in the roster, dispatches submitted jobs and
stores finished ones in the history database. Other sfcluster commands talk
to it over a local control socket. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return runDaemon(ctx, cfg, log)
		},
	}
}

// runDaemon wires the cluster together and blocks until ctx is done or a
// component fails.
func runDaemon(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return fmt.Errorf("create home %s: %w", cfg.Home, err)
	}

	res, err := roster.Load(cfg.ServersFile)
	if err != nil {
		log.Warn("roster unusable, using default", zap.String("path", cfg.ServersFile), zap.Error(err))
	}
	if len(res.Skipped) > 0 {
		log.Warn("invalid roster entries skipped", zap.Strings("entries", res.Skipped))
	}
	if res.Defaulted {
		log.Info("using default roster", zap.String("server", res.Servers[0].Addr()))
	}

	db, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer db.Close()
	recorder := eventlog.NewRecorder(db, log.Named("events"))

	ctrl := cluster.New(cluster.Config{
		Servers:          res.Servers,
		BaseDir:          cfg.Home,
		History:          history.New(db),
		Logger:           log.Named("cluster"),
		Observers:        []dispatcher.Observer{recorder},
		ServerObservers:  []cluster.ServerObserver{recorder},
		PingInterval:     time.Duration(cfg.PingInterval),
		DispatchInterval: time.Duration(cfg.DispatchInterval),
		ReconnectEvery:   time.Duration(float64(time.Second) / cfg.ReconnectRate),
		JobsListLimit:    cfg.JobsListLimit,
	})
	srv := control.NewServer(cfg.SocketPath, ctrl, log.Named("control"))

	log.Info("daemon starting",
		zap.Int("servers", len(res.Servers)),
		zap.String("history", cfg.HistoryDB),
		zap.String("socket", cfg.SocketPath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		watchRoster(gctx, cfg.ServersFile, ctrl, log.Named("roster"))
		return nil
	})

	err = g.Wait()
	log.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// rosterApplier is the part of the controller the roster watcher uses.
type rosterApplier interface {
	ApplyRoster(ctx context.Context, servers []protocol.ServerInfo) ([]string, error)
}

// watchRoster reapplies the roster file when it changes. Servers added to
// the file are reported; they join on the next start.
func watchRoster(ctx context.Context, path string, ctrl rosterApplier, log *zap.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("roster watch unavailable", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Warn("roster watch unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("roster watch error", zap.Error(err))
		case <-timer.C:
			applyRoster(ctx, path, ctrl, log)
		}
	}
}

func applyRoster(ctx context.Context, path string, ctrl rosterApplier, log *zap.Logger) {
	res, err := roster.Load(path)
	if err != nil || res.Defaulted {
		log.Warn("roster change ignored", zap.String("path", path), zap.Error(err))
		return
	}
	unknown, err := ctrl.ApplyRoster(ctx, res.Servers)
	if err != nil {
		log.Warn("apply roster", zap.Error(err))
		return
	}
	log.Info("roster reloaded", zap.Int("servers", len(res.Servers)))
	if len(unknown) > 0 {
		log.Info("new servers need a restart to connect", zap.Strings("servers", unknown))
	}
}
