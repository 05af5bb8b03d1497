package main

import (
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when the history database directory changes.
type fsChangeMsg struct{}

// dbWatcher turns writes under one directory into debounced fsChangeMsg.
type dbWatcher struct {
	w *fsnotify.Watcher
}

// newDBWatcher returns nil if dir does not exist or cannot be watched; the
// dashboard then relies on its tick alone.
func newDBWatcher(dir string) *dbWatcher {
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil
	}
	return &dbWatcher{w: w}
}

// Next returns a command that blocks until a burst of changes settles. It
// returns nil once the watcher is closed.
func (d *dbWatcher) Next() tea.Cmd {
	if d == nil {
		return nil
	}
	return func() tea.Msg {
		timer := newDebounceTimer()
		defer timer.Stop()

		for {
			select {
			case _, ok := <-d.w.Events:
				if !ok {
					return nil
				}
				resetDebounceTimer(timer)
			case <-timer.C:
				return fsChangeMsg{}
			case _, ok := <-d.w.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

// Close stops the watcher.
func (d *dbWatcher) Close() error {
	if d == nil {
		return nil
	}
	return d.w.Close()
}

func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func resetDebounceTimer(timer *time.Timer) {
	const debounceDuration = 250 * time.Millisecond
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
