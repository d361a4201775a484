// Package runner executes tool commands (tofu plan, packer build, boundary
// connect) inside a PTY with terminal emulation. Running in a PTY keeps the
// tools' progress output line-buffered and colored the way an interactive
// shell would see it; vt10x gives attached viewers a coherent screen instead
// of a raw byte stream.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/hinshun/vt10x"

	"github.com/opstray-io/opstray/pkg/logging"
)

const (
	defaultRows = 24
	defaultCols = 80

	// maxScrollback bounds memory per execution; oldest lines are dropped.
	maxScrollback = 4096

	// stopGrace is how long Stop waits after SIGTERM before SIGKILL.
	stopGrace = 5 * time.Second
)

// Options configures one execution.
type Options struct {
	Name string
	Cmd  *exec.Cmd
	Rows int
	Cols int
}

// Execution is one tool command running in a PTY.
type Execution struct {
	name string
	cmd  *exec.Cmd

	mu         sync.RWMutex
	ptyFile    *os.File
	vt         vt10x.Terminal
	rows, cols int

	done      chan struct{}
	exitErr   error
	closeOnce sync.Once

	subMu sync.RWMutex
	subs  map[string]chan []byte

	scrollMu   sync.RWMutex
	scrollback []string
	partial    strings.Builder

	startedAt time.Time
}

// Start launches the command in a PTY and begins reading its output.
func Start(opts Options) (*Execution, error) {
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}

	ptmx, err := pty.StartWithSize(opts.Cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty for %s: %w", opts.Name, err)
	}

	e := &Execution{
		name:      opts.Name,
		cmd:       opts.Cmd,
		ptyFile:   ptmx,
		vt:        vt10x.New(vt10x.WithSize(cols, rows)),
		rows:      rows,
		cols:      cols,
		done:      make(chan struct{}),
		subs:      make(map[string]chan []byte),
		startedAt: time.Now().UTC(),
	}

	go e.readLoop()
	return e, nil
}

func (e *Execution) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.ptyFile.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			e.broadcast(data)

			e.mu.Lock()
			e.vt.Write(data)
			e.mu.Unlock()

			e.appendScrollback(data)
		}
		if err != nil {
			// EIO is the normal PTY close on process exit.
			break
		}
	}

	e.exitErr = e.cmd.Wait()
	e.flushPartial()
	e.closeOnce.Do(func() { _ = e.ptyFile.Close() })
	close(e.done)
}

// SendInput writes user input to the PTY, e.g. a confirmation answer.
func (e *Execution) SendInput(data []byte) error {
	_, err := e.ptyFile.Write(data)
	return err
}

// Resize changes the PTY and emulator dimensions.
func (e *Execution) Resize(rows, cols int) error {
	if err := pty.Setsize(e.ptyFile, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	e.mu.Lock()
	e.rows = rows
	e.cols = cols
	e.vt.Resize(cols, rows)
	e.mu.Unlock()
	return nil
}

// Screen renders the emulated terminal as plain text lines, trailing blanks
// trimmed.
func (e *Execution) Screen() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	lines := make([]string, e.rows)
	for row := 0; row < e.rows; row++ {
		var sb strings.Builder
		for col := 0; col < e.cols; col++ {
			g := e.vt.Cell(col, row)
			if g.Char == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(g.Char)
			}
		}
		lines[row] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}

// Subscribe registers a raw output channel under id. Slow subscribers have
// writes dropped, never block the read loop.
func (e *Execution) Subscribe(id string) <-chan []byte {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	ch := make(chan []byte, 256)
	e.subs[id] = ch
	return ch
}

// Unsubscribe closes and removes the channel registered under id.
func (e *Execution) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		close(ch)
		delete(e.subs, id)
	}
}

func (e *Execution) broadcast(data []byte) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (e *Execution) appendScrollback(data []byte) {
	e.scrollMu.Lock()
	defer e.scrollMu.Unlock()

	e.partial.WriteString(string(data))
	lines := strings.Split(e.partial.String(), "\n")
	e.partial.Reset()
	e.partial.WriteString(lines[len(lines)-1])

	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		e.scrollback = append(e.scrollback, line)
	}
	if over := len(e.scrollback) - maxScrollback; over > 0 {
		e.scrollback = append([]string(nil), e.scrollback[over:]...)
	}
}

func (e *Execution) flushPartial() {
	e.scrollMu.Lock()
	defer e.scrollMu.Unlock()
	if rest := strings.TrimRight(e.partial.String(), "\r"); rest != "" {
		e.scrollback = append(e.scrollback, rest)
	}
	e.partial.Reset()
}

// Tail returns the last n scrollback lines.
func (e *Execution) Tail(n int) []string {
	e.scrollMu.RLock()
	defer e.scrollMu.RUnlock()
	if n > len(e.scrollback) {
		n = len(e.scrollback)
	}
	out := make([]string, n)
	copy(out, e.scrollback[len(e.scrollback)-n:])
	return out
}

// Scrollback returns a copy of all retained output lines.
func (e *Execution) Scrollback() []string {
	e.scrollMu.RLock()
	defer e.scrollMu.RUnlock()
	out := make([]string, len(e.scrollback))
	copy(out, e.scrollback)
	return out
}

// Done is closed when the process has exited and its output is drained.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// ExitErr returns the process exit error; valid once Done is closed.
func (e *Execution) ExitErr() error {
	return e.exitErr
}

// Running reports whether the process has not yet exited.
func (e *Execution) Running() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// StartedAt returns when the execution began.
func (e *Execution) StartedAt() time.Time {
	return e.startedAt
}

// Stop terminates the process: SIGTERM, a grace period, then SIGKILL.
func (e *Execution) Stop() {
	if e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-e.done:
		return
	case <-time.After(stopGrace):
	}

	logging.Warn("Runner", "%s did not exit after SIGTERM, killing", e.name)
	_ = e.cmd.Process.Kill()
	<-e.done
}

// Wait blocks until the process exits or ctx is cancelled. On cancellation
// the process is stopped and ctx's error is returned, which lets an operation
// registry record the run as cancelled. Otherwise it returns the output tail
// and the exit error.
func (e *Execution) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		e.Stop()
		return strings.Join(e.Tail(20), "\n"), ctx.Err()
	case <-e.done:
	}

	tail := strings.Join(e.Tail(20), "\n")
	if e.exitErr != nil {
		return tail, fmt.Errorf("%s: %w", e.name, e.exitErr)
	}
	return tail, nil
}
