package config

import (
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used for tokens stored in the OS keyring.
const keyringService = "opstray"

// Scheduled task identifiers. These key the Tasks map in Settings and the
// task table in the daemon's scheduler.
const (
	TaskTokenRenew = "openbao_token_renew"
	TaskLeaseRenew = "openbao_lease_renew"
	TaskJobPoll    = "nomad_job_poll"
)

// BackendSettings holds the connection parameters for one REST backend.
type BackendSettings struct {
	Enabled       bool   `yaml:"enabled"`
	Address       string `yaml:"address"`
	Token         string `yaml:"token,omitempty"`
	TokenKeyring  bool   `yaml:"token_keyring"` // resolve token from the OS keyring instead of this file
	Namespace     string `yaml:"namespace,omitempty"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
}

// ToolSettings holds the configuration for a CLI-backed tool (OpenTofu, Packer).
type ToolSettings struct {
	Enabled  bool     `yaml:"enabled"`
	Binary   string   `yaml:"binary"` // empty = lookup in PATH
	WorkDirs []string `yaml:"work_dirs"`
}

// TaskSettings holds the schedule for one background task.
type TaskSettings struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	Enabled         bool `yaml:"enabled"`
}

// Interval returns the task interval as a duration.
func (t TaskSettings) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// AlertSettings holds the alert policy for the job-state poller.
type AlertSettings struct {
	FailureStatuses []string `yaml:"failure_statuses"`
	AlertOnRemoval  bool     `yaml:"alert_on_removal"`
	Notifications   bool     `yaml:"notifications"` // desktop notifications for alerts
}

// Settings represents global application settings.
// This corresponds to ~/.opstray/settings.yaml.
type Settings struct {
	Version  int             `yaml:"version"`
	LogLevel string          `yaml:"log_level"` // debug | info | warn | error
	OpenBao  BackendSettings `yaml:"openbao"`
	// LeasePrefixes are the lease prefixes the lease-renew task walks, e.g.
	// "database/creds/app". Empty means the task has nothing to renew.
	LeasePrefixes    []string                `yaml:"lease_prefixes,omitempty"`
	Consul           BackendSettings         `yaml:"consul"`
	Nomad            BackendSettings         `yaml:"nomad"`
	Boundary         BackendSettings         `yaml:"boundary"`
	OpenTofu         ToolSettings            `yaml:"opentofu"`
	Packer           ToolSettings            `yaml:"packer"`
	Tasks            map[string]TaskSettings `yaml:"tasks"`
	TreeTTLSeconds   int                     `yaml:"tree_ttl_seconds"`  // 0 = cached listings never expire
	RetentionSeconds int                     `yaml:"retention_seconds"` // terminal operation handles kept this long
	Alerts           AlertSettings           `yaml:"alerts"`
}

// NewSettings creates settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version:  1,
		LogLevel: "info",
		OpenBao: BackendSettings{
			Enabled: true,
			Address: "http://127.0.0.1:8200",
		},
		Consul: BackendSettings{
			Enabled: true,
			Address: "http://127.0.0.1:8500",
		},
		Nomad: BackendSettings{
			Enabled: true,
			Address: "http://127.0.0.1:4646",
		},
		Boundary: BackendSettings{
			Enabled: false,
			Address: "http://127.0.0.1:9200",
		},
		OpenTofu: ToolSettings{Enabled: false},
		Packer:   ToolSettings{Enabled: false},
		Tasks: map[string]TaskSettings{
			TaskTokenRenew: {IntervalSeconds: 1800, Enabled: true},
			TaskLeaseRenew: {IntervalSeconds: 300, Enabled: false},
			TaskJobPoll:    {IntervalSeconds: 60, Enabled: true},
		},
		TreeTTLSeconds:   120,
		RetentionSeconds: 3600,
		Alerts: AlertSettings{
			FailureStatuses: []string{"dead", "failed", "lost", "critical"},
			AlertOnRemoval:  true,
			Notifications:   true,
		},
	}
}

// TreeTTL returns the cached-listing TTL as a duration.
func (s *Settings) TreeTTL() time.Duration {
	return time.Duration(s.TreeTTLSeconds) * time.Second
}

// Retention returns the process handle retention window as a duration.
func (s *Settings) Retention() time.Duration {
	if s.RetentionSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.RetentionSeconds) * time.Second
}

// Task returns the schedule for the given task id, falling back to the
// defaults when the settings file doesn't mention it.
func (s *Settings) Task(id string) TaskSettings {
	if t, ok := s.Tasks[id]; ok {
		return t
	}
	if t, ok := NewSettings().Tasks[id]; ok {
		return t
	}
	return TaskSettings{IntervalSeconds: 300}
}

// ResolveToken returns the API token for a backend, reading the OS keyring
// when token_keyring is set.
func (b BackendSettings) ResolveToken(backend string) (string, error) {
	if !b.TokenKeyring {
		return b.Token, nil
	}
	tok, err := keyring.Get(keyringService, backend)
	if err != nil {
		return "", fmt.Errorf("read %s token from keyring: %w", backend, err)
	}
	return tok, nil
}

// StoreToken writes a backend token into the OS keyring.
func StoreToken(backend, token string) error {
	return keyring.Set(keyringService, backend, token)
}

// DeleteToken removes a backend token from the OS keyring.
func DeleteToken(backend string) error {
	return keyring.Delete(keyringService, backend)
}

// LoadSettings loads the global settings from ~/.opstray/settings.yaml.
// If the file doesn't exist, returns default settings.
func LoadSettings() (*Settings, error) {
	path, err := GlobalSettingsFile()
	if err != nil {
		return nil, err
	}
	return LoadYAMLOrDefault(path, NewSettings)
}

// SaveSettings saves the global settings to ~/.opstray/settings.yaml.
func SaveSettings(settings *Settings) error {
	path, err := GlobalSettingsFile()
	if err != nil {
		return err
	}
	return SaveYAML(path, settings)
}
