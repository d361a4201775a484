package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturesOutputAndExit(t *testing.T) {
	e, err := Start(Options{
		Name: "echo",
		Cmd:  exec.Command("sh", "-c", "echo hello; echo world"),
	})
	require.NoError(t, err)

	out, err := e.Wait(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "world")
	assert.False(t, e.Running())
}

func TestNonZeroExitIsAnError(t *testing.T) {
	e, err := Start(Options{
		Name: "failing",
		Cmd:  exec.Command("sh", "-c", "echo boom >&2; exit 3"),
	})
	require.NoError(t, err)

	out, err := e.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	// stderr goes through the same PTY as stdout
	assert.Contains(t, out, "boom")
}

func TestCancelStopsProcess(t *testing.T) {
	e, err := Start(Options{
		Name: "sleeper",
		Cmd:  exec.Command("sh", "-c", "sleep 30"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = e.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second, "SIGTERM should end the sleep well before the kill fallback")
	assert.False(t, e.Running())
}

func TestSubscribeReceivesRawOutput(t *testing.T) {
	e, err := Start(Options{
		Name: "chatty",
		Cmd:  exec.Command("sh", "-c", "echo streamed-marker; sleep 0.2"),
	})
	require.NoError(t, err)

	ch := e.Subscribe("test")
	defer e.Unsubscribe("test")

	var got strings.Builder
	deadline := time.After(2 * time.Second)
	for !strings.Contains(got.String(), "streamed-marker") {
		select {
		case data := <-ch:
			got.Write(data)
		case <-deadline:
			t.Fatal("no raw output observed")
		}
	}

	_, err = e.Wait(context.Background())
	require.NoError(t, err)
}

func TestScrollbackIsBounded(t *testing.T) {
	e, err := Start(Options{
		Name: "flood",
		Cmd:  exec.Command("sh", "-c", "i=0; while [ $i -lt 5000 ]; do echo line-$i; i=$((i+1)); done"),
	})
	require.NoError(t, err)

	_, err = e.Wait(context.Background())
	require.NoError(t, err)

	lines := e.Scrollback()
	assert.LessOrEqual(t, len(lines), maxScrollback)
	assert.Equal(t, "line-4999", lines[len(lines)-1], "newest lines are retained")
}
