// Package main is the entry point for the opstrayd tray daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon"
	"github.com/opstray-io/opstray/internal/daemon/tray"
	"github.com/opstray-io/opstray/internal/daemon/watcher"
	"github.com/opstray-io/opstray/pkg/logging"
)

const backendProbeInterval = 30 * time.Second

func main() {
	foreground := flag.Bool("foreground", false, "Run without the system tray (for development)")
	flag.Parse()

	if err := config.EnsureGlobalDir(); err != nil {
		fmt.Fprintf(os.Stderr, "create config directory: %v\n", err)
		os.Exit(1)
	}

	running, info, err := config.IsDaemonRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "check daemon status: %v\n", err)
		os.Exit(1)
	}
	if running {
		fmt.Fprintf(os.Stderr, "opstrayd already running (PID %d)\n", info.PID)
		os.Exit(1)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	initLogging(settings, *foreground)

	d, err := daemon.New(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start daemon: %v\n", err)
		os.Exit(1)
	}

	if *foreground {
		runForeground(d)
		return
	}
	runWithTray(d)
}

// initLogging sends logs to stderr in foreground mode and to
// ~/.opstray/logs/opstrayd.log otherwise.
func initLogging(settings *config.Settings, foreground bool) {
	level := logging.ParseLevel(settings.LogLevel)
	var out io.Writer = os.Stderr
	if !foreground {
		if err := config.EnsureGlobalLogsDir(); err == nil {
			if dir, err := config.GlobalLogsDir(); err == nil {
				f, err := os.OpenFile(filepath.Join(dir, "opstrayd.log"),
					os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err == nil {
					out = f
				}
			}
		}
	}
	logging.Init(level, out)
}

// startBackground wires the pieces that run in both modes: the pidfile, the
// settings watcher, and the event pump. It returns a cleanup func.
func startBackground(d *daemon.Daemon, onEvent func(daemon.Event)) func() {
	if err := config.SaveDaemonInfo(config.NewDaemonInfo(os.Getpid())); err != nil {
		logging.Error("Main", err, "write daemon info")
	}

	w, err := watcher.New()
	if err != nil {
		logging.Error("Main", err, "create settings watcher")
		w = nil
	} else if err := w.Start(); err != nil {
		logging.Error("Main", err, "start settings watcher")
		w.Stop()
		w = nil
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev := <-d.Events():
				if onEvent != nil {
					onEvent(ev)
				}
			case path, ok := <-watcherChanges(w):
				if !ok {
					return
				}
				logging.Info("Main", "settings changed on disk: %s", path)
				if err := d.ReloadSettings(); err != nil {
					logging.Error("Main", err, "reload settings")
				}
			}
		}
	}()

	return func() {
		close(done)
		if w != nil {
			w.Stop()
		}
		d.Close()
		if err := config.RemoveDaemonInfo(); err != nil {
			logging.Error("Main", err, "remove daemon info")
		}
	}
}

func watcherChanges(w *watcher.Watcher) <-chan string {
	if w == nil {
		// nil channel blocks forever, keeping the select shape uniform
		return nil
	}
	return w.Changes()
}

func runForeground(d *daemon.Daemon) {
	cleanup := startBackground(d, func(ev daemon.Event) {
		if ev.Type == daemon.EventAlert {
			logging.Warn("Main", "%s", formatAlert(ev))
		}
	})

	logging.Info("Main", "opstrayd started in foreground (PID %d)", os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("Main", "received %v, shutting down", sig)

	cleanup()
	fmt.Println("opstrayd stopped")
}

// runWithTray runs the daemon with the tray icon on the main goroutine.
// systray.Run must occupy the main goroutine on macOS (Cocoa requirement).
func runWithTray(d *daemon.Daemon) {
	state := &trayState{d: d}
	var cleanup func()

	onStart := func() {
		cleanup = startBackground(d, func(ev daemon.Event) {
			switch ev.Type {
			case daemon.EventAlert:
				text := formatAlert(ev)
				tray.PushAlert(text)
				if d.Settings().Alerts.Notifications {
					tray.Notify("opstray alert", text)
				}
			case daemon.EventProcessChanged:
				tray.UpdateOperations(state.RunningOperations())
			}
		})

		logging.Info("Main", "opstrayd started (PID %d)", os.Getpid())

		go func() {
			ticker := time.NewTicker(backendProbeInterval)
			defer ticker.Stop()
			for range ticker.C {
				tray.UpdateBackends(state.Backends())
			}
		}()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logging.Info("Main", "received %v, shutting down", sig)
			tray.Quit()
		}()
	}

	onExit := func() {
		if cleanup != nil {
			cleanup()
		}
		fmt.Println("opstrayd stopped")
	}

	tray.Run(state, onStart, onExit)
}

func formatAlert(ev daemon.Event) string {
	a := ev.Alert
	if a.Removed {
		return fmt.Sprintf("%s removed (was %s)", a.ResourceID, a.From)
	}
	return fmt.Sprintf("%s: %s -> %s", a.ResourceID, a.From, a.To)
}

// trayState adapts the daemon facade to the tray's DaemonState interface.
type trayState struct {
	d *daemon.Daemon
}

func (t *trayState) Backends() []tray.BackendInfo {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statuses := t.d.Health(ctx)
	out := make([]tray.BackendInfo, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, tray.BackendInfo{
			Name:    s.Name,
			Enabled: s.Enabled,
			Healthy: s.Healthy,
			Detail:  s.Detail,
		})
	}
	return out
}

func (t *trayState) RunningOperations() []tray.OperationInfo {
	running := t.d.Registry().Running()
	out := make([]tray.OperationInfo, 0, len(running))
	for _, h := range running {
		out = append(out, tray.OperationInfo{
			ID:          h.ID,
			Name:        h.Name,
			Description: h.Description,
			Runtime:     h.Runtime().Round(time.Second).String(),
		})
	}
	return out
}

func (t *trayState) CancelOperation(id string) {
	if !t.d.Registry().Cancel(id) {
		logging.Warn("Main", "cancel of %s had no effect", id)
	}
}

func (t *trayState) RefreshAll() {
	for _, ns := range t.d.Namespaces() {
		if err := t.d.Invalidate(ns, "", true); err != nil {
			logging.Warn("Main", "refresh %s: %v", ns, err)
		}
	}
	tray.UpdateBackends(t.Backends())
}

func (t *trayState) RequestShutdown() {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(syscall.SIGINT)
}
