package config

import (
	"os"
	"syscall"
	"time"
)

// DaemonInfo records the running daemon's identity.
// This corresponds to ~/.opstray/daemon.yaml.
type DaemonInfo struct {
	Version   int       `yaml:"version"`
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`
}

// NewDaemonInfo creates daemon info for the current process.
func NewDaemonInfo(pid int) *DaemonInfo {
	return &DaemonInfo{
		Version:   1,
		PID:       pid,
		StartedAt: time.Now().UTC(),
	}
}

// LoadDaemonInfo loads the daemon info from ~/.opstray/daemon.yaml.
// Returns nil if the file doesn't exist.
func LoadDaemonInfo() (*DaemonInfo, error) {
	path, err := GlobalDaemonFile()
	if err != nil {
		return nil, err
	}
	if !FileExists(path) {
		return nil, nil
	}

	var info DaemonInfo
	if err := LoadYAML(path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SaveDaemonInfo saves the daemon info to ~/.opstray/daemon.yaml.
func SaveDaemonInfo(info *DaemonInfo) error {
	if err := EnsureGlobalDir(); err != nil {
		return err
	}

	path, err := GlobalDaemonFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, info)
}

// RemoveDaemonInfo removes the daemon.yaml file.
func RemoveDaemonInfo() error {
	path, err := GlobalDaemonFile()
	if err != nil {
		return err
	}
	if !FileExists(path) {
		return nil
	}
	return os.Remove(path)
}

// IsDaemonRunning checks whether another daemon process is still alive.
// Returns true if daemon.yaml exists and its PID responds to signal 0.
func IsDaemonRunning() (bool, *DaemonInfo, error) {
	info, err := LoadDaemonInfo()
	if err != nil {
		return false, nil, err
	}
	if info == nil {
		return false, nil, nil
	}

	process, err := os.FindProcess(info.PID)
	if err != nil {
		return false, info, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		// Process is gone, clean up the stale file.
		_ = RemoveDaemonInfo()
		return false, info, nil
	}

	return true, info, nil
}
