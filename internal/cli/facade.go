package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon"
	"github.com/opstray-io/opstray/internal/daemon/registry"
	"github.com/opstray-io/opstray/internal/daemon/runner"
	"github.com/opstray-io/opstray/pkg/logging"
)

// withDaemon builds an in-process facade from the on-disk settings, runs fn,
// and tears the facade down. CLI commands use their own instance; a running
// opstrayd keeps its own caches and is unaffected.
//
// Background tasks are forced off so a long-running command (an apply, a
// connect session) doesn't renew tokens or poll jobs behind the user's back.
func withDaemon(logOutput io.Writer, fn func(d *daemon.Daemon) error) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	for id, task := range settings.Tasks {
		task.Enabled = false
		settings.Tasks[id] = task
	}
	logging.Init(logging.LevelWarn, logOutput)

	d, err := daemon.New(settings)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

// streamOperation mirrors an operation's PTY output to stdout until the
// operation reaches a terminal state. Ctrl+C cancels the operation instead of
// abandoning it; the exit code reflects the final status.
func streamOperation(d *daemon.Daemon, h registry.Handle) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			fmt.Fprintln(os.Stderr, "\ncancelling...")
			d.Registry().Cancel(h.ID)
		}
	}()

	if e := waitExecution(d, h.ID); e != nil {
		out := e.Subscribe("cli")
		defer e.Unsubscribe("cli")
	stream:
		for {
			select {
			case data := <-out:
				os.Stdout.Write(data)
			case <-e.Done():
				break stream
			}
		}
		// Drain whatever the subscriber channel still buffers.
	drain:
		for {
			select {
			case data := <-out:
				os.Stdout.Write(data)
			default:
				break drain
			}
		}
	}

	final := waitTerminal(d, h.ID)
	switch final.Status {
	case registry.StatusCompleted:
		return nil
	case registry.StatusCancelled:
		return fmt.Errorf("%s cancelled", h.Name)
	default:
		return fmt.Errorf("%s failed: %s", h.Name, final.Err)
	}
}

// waitExecution polls for the operation's PTY execution. It returns nil when
// the operation went terminal before a PTY appeared (e.g. the binary is
// missing); the failure surfaces through the handle.
func waitExecution(d *daemon.Daemon, id string) *runner.Execution {
	for i := 0; i < 200; i++ {
		if e, ok := d.Execution(id); ok {
			return e
		}
		if h, ok := d.Registry().Get(id); ok && h.Status.Terminal() {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return nil
}

func waitTerminal(d *daemon.Daemon, id string) registry.Handle {
	for {
		h, ok := d.Registry().Get(id)
		if !ok || h.Status.Terminal() {
			return h
		}
		time.Sleep(25 * time.Millisecond)
	}
}
