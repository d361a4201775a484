package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	in := NewSettings()
	in.LogLevel = "debug"
	in.Nomad.Address = "http://10.0.0.5:4646"
	require.NoError(t, SaveYAML(path, in))

	var out Settings
	require.NoError(t, LoadYAML(path, &out))
	assert.Equal(t, "debug", out.LogLevel)
	assert.Equal(t, "http://10.0.0.5:4646", out.Nomad.Address)
	assert.Equal(t, in.Tasks, out.Tasks)

	// The temp file from the atomic write must not linger.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadYAMLOrDefaultMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := LoadYAMLOrDefault(path, NewSettings)
	require.NoError(t, err)
	assert.Equal(t, NewSettings(), s)
	assert.False(t, FileExists(path), "defaults are returned, not written")
}

func TestLoadYAMLOrDefaultCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	_, err := LoadYAMLOrDefault(path, NewSettings)
	require.Error(t, err)
}

func TestTaskFallsBackToDefaults(t *testing.T) {
	s := NewSettings()
	s.Tasks = map[string]TaskSettings{}

	task := s.Task(TaskJobPoll)
	assert.Equal(t, 60, task.IntervalSeconds)
	assert.True(t, task.Enabled)

	unknown := s.Task("no_such_task")
	assert.Equal(t, 300, unknown.IntervalSeconds)
	assert.False(t, unknown.Enabled)
}

func TestRetentionFloor(t *testing.T) {
	s := NewSettings()
	s.RetentionSeconds = 0
	assert.Equal(t, "1h0m0s", s.Retention().String())

	s.RetentionSeconds = 600
	assert.Equal(t, "10m0s", s.Retention().String())
}

func TestResolveTokenFromFile(t *testing.T) {
	b := BackendSettings{Token: "s.plaintext", TokenKeyring: false}
	tok, err := b.ResolveToken("openbao")
	require.NoError(t, err)
	assert.Equal(t, "s.plaintext", tok)
}

func TestDaemonInfoRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, SaveDaemonInfo(NewDaemonInfo(os.Getpid())))

	info, err := LoadDaemonInfo()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)

	// Our own PID is alive, so the daemon reads as running.
	running, _, err := IsDaemonRunning()
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, RemoveDaemonInfo())
	info, err = LoadDaemonInfo()
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestStaleDaemonInfoCleanedUp(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// PID from a long-gone process: signal 0 fails, the file is removed.
	require.NoError(t, SaveDaemonInfo(NewDaemonInfo(1<<22+7)))

	running, _, err := IsDaemonRunning()
	require.NoError(t, err)
	assert.False(t, running)

	info, err := LoadDaemonInfo()
	require.NoError(t, err)
	assert.Nil(t, info)
}
