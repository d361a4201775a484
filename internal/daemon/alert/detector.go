// Package alert diffs periodic status snapshots and raises alerts on state
// transitions. The detector knows nothing about transport: the poller only
// calls Observe with snapshots it actually managed to fetch.
package alert

import (
	"strings"
	"time"
)

// Alert describes one state transition worth telling the user about.
type Alert struct {
	ResourceID string
	From       string
	To         string
	Removed    bool
	At         time.Time
}

// Policy configures which transitions fire alerts.
type Policy struct {
	// FailureStatuses are the terminal-failure values (matched
	// case-insensitively) that fire an alert when entered.
	FailureStatuses []string
	// AlertOnRemoval fires an alert when a previously observed resource
	// disappears from a snapshot.
	AlertOnRemoval bool
}

// DefaultPolicy matches the statuses Nomad reports for dead jobs and lost
// allocations.
func DefaultPolicy() Policy {
	return Policy{
		FailureStatuses: []string{"dead", "failed", "lost", "critical"},
		AlertOnRemoval:  true,
	}
}

// Detector owns the previous snapshot. Observe calls must be serialized by
// the caller (a single poll loop); the detector itself takes no locks.
type Detector struct {
	failure map[string]struct{}
	removal bool
	prev    map[string]string
	primed  bool
}

// NewDetector creates a detector with the given policy.
func NewDetector(policy Policy) *Detector {
	d := &Detector{
		failure: make(map[string]struct{}, len(policy.FailureStatuses)),
		removal: policy.AlertOnRemoval,
	}
	for _, s := range policy.FailureStatuses {
		d.failure[strings.ToLower(s)] = struct{}{}
	}
	return d
}

// Observe diffs the fresh snapshot against the stored one and returns the
// resulting alerts, then replaces the stored snapshot. The first observation
// ever returns no alerts: there is no prior state to diff against.
func (d *Detector) Observe(current map[string]string) []Alert {
	next := make(map[string]string, len(current))
	for id, status := range current {
		next[id] = status
	}

	if !d.primed {
		d.prev = next
		d.primed = true
		return nil
	}

	now := time.Now()
	var alerts []Alert

	for id, status := range next {
		prevStatus, seen := d.prev[id]
		if !seen {
			// First observation of this resource, nothing to diff.
			continue
		}
		if d.isFailure(status) && !d.isFailure(prevStatus) {
			alerts = append(alerts, Alert{
				ResourceID: id,
				From:       prevStatus,
				To:         status,
				At:         now,
			})
		}
	}

	if d.removal {
		for id, prevStatus := range d.prev {
			if _, ok := next[id]; !ok {
				alerts = append(alerts, Alert{
					ResourceID: id,
					From:       prevStatus,
					Removed:    true,
					At:         now,
				})
			}
		}
	}

	d.prev = next
	return alerts
}

// Reset drops the stored snapshot, e.g. after the watched backend changes in
// settings. The next Observe primes a fresh baseline without alerting.
func (d *Detector) Reset() {
	d.prev = nil
	d.primed = false
}

func (d *Detector) isFailure(status string) bool {
	_, ok := d.failure[strings.ToLower(status)]
	return ok
}
