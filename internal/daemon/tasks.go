package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/opstray-io/opstray/internal/clients"
	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/schedule"
	"github.com/opstray-io/opstray/pkg/logging"
)

// scheduleTasks registers the background tasks with the scheduler. A
// disabled backend makes its task a cheap no-op rather than unscheduling it,
// so toggling the backend later needs no re-registration.
func (d *Daemon) scheduleTasks() error {
	s := d.Settings()

	register := func(id string, fn func(ctx context.Context) error) error {
		task := s.Task(id)
		return d.scheduler.Schedule(schedule.TaskSpec{
			ID:       id,
			Interval: task.Interval(),
			Enabled:  task.Enabled,
		}, fn)
	}

	if err := register(config.TaskTokenRenew, d.renewToken); err != nil {
		return err
	}
	if err := register(config.TaskLeaseRenew, d.renewLeases); err != nil {
		return err
	}
	return register(config.TaskJobPoll, d.pollJobs)
}

// Tasks returns the scheduler's current task table.
func (d *Daemon) Tasks() []schedule.TaskStatus {
	return d.scheduler.Snapshot()
}

// TriggerTask runs a task now, regardless of its schedule or enabled state.
func (d *Daemon) TriggerTask(id string) error {
	return d.scheduler.Trigger(id)
}

// SetTaskEnabled toggles a task and persists the change to settings.yaml.
func (d *Daemon) SetTaskEnabled(id string, enabled bool) error {
	if err := d.scheduler.SetEnabled(id, enabled); err != nil {
		return err
	}

	d.mu.Lock()
	if d.settings.Tasks == nil {
		d.settings.Tasks = make(map[string]config.TaskSettings)
	}
	task := d.settings.Task(id)
	task.Enabled = enabled
	d.settings.Tasks[id] = task
	settings := d.settings
	d.mu.Unlock()

	return config.SaveSettings(settings)
}

func (d *Daemon) renewToken(ctx context.Context) error {
	c, err := d.factory.OpenBao()
	if err != nil {
		return disabledAsNoop(err)
	}
	ttl, err := c.RenewSelf(ctx)
	if err != nil {
		return fmt.Errorf("renew token: %w", err)
	}
	logging.Info("Tasks", "openbao token renewed, ttl %ds", ttl)
	return nil
}

func (d *Daemon) renewLeases(ctx context.Context) error {
	c, err := d.factory.OpenBao()
	if err != nil {
		return disabledAsNoop(err)
	}

	prefixes := d.Settings().LeasePrefixes
	var failed int
	for _, prefix := range prefixes {
		leases, err := c.ListLeases(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list leases under %s: %w", prefix, err)
		}
		for _, lease := range leases {
			if _, err := c.RenewLease(ctx, lease.ID); err != nil {
				logging.Warn("Tasks", "renew lease %s: %v", lease.ID, err)
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d lease renewals failed", failed)
	}
	return nil
}

// pollJobs fetches the Nomad job snapshot, feeds the change detector, and
// emits an alert event per detected transition. A failed fetch leaves the
// detector's baseline untouched so a flapping API cannot fake transitions.
func (d *Daemon) pollJobs(ctx context.Context) error {
	c, err := d.factory.Nomad()
	if err != nil {
		return disabledAsNoop(err)
	}

	statuses, err := c.JobStatuses(ctx)
	if err != nil {
		return fmt.Errorf("poll jobs: %w", err)
	}

	d.mu.Lock()
	detector := d.detector
	d.mu.Unlock()

	alerts := detector.Observe(statuses)
	for _, a := range alerts {
		if a.Removed {
			logging.Info("Tasks", "job %s removed (was %s)", a.ResourceID, a.From)
		} else {
			logging.Info("Tasks", "job %s went %s -> %s", a.ResourceID, a.From, a.To)
		}
		d.emit(Event{Type: EventAlert, Alert: a})
	}

	if len(alerts) > 0 {
		// Cached listings show stale statuses; force a reload on next expand.
		if t, ok := d.Tree(NSNomadJobs); ok {
			t.Invalidate("", true)
		}
	}
	return nil
}

// disabledAsNoop turns a disabled-backend error into a silent success so the
// task shows Idle instead of a permanent error while its backend is off.
func disabledAsNoop(err error) error {
	var disabled *clients.ErrDisabled
	if errors.As(err, &disabled) {
		return nil
	}
	return err
}
