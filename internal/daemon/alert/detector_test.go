package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstObservationYieldsNoAlerts(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	alerts := d.Observe(map[string]string{"web": "running", "batch": "dead"})
	assert.Empty(t, alerts, "no prior snapshot to diff against")
}

func TestTransitionToFailureAlerts(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	d.Observe(map[string]string{"web": "running"})
	alerts := d.Observe(map[string]string{"web": "dead"})

	require.Len(t, alerts, 1)
	assert.Equal(t, "web", alerts[0].ResourceID)
	assert.Equal(t, "running", alerts[0].From)
	assert.Equal(t, "dead", alerts[0].To)
	assert.False(t, alerts[0].Removed)

	// Staying dead does not re-alert.
	alerts = d.Observe(map[string]string{"web": "dead"})
	assert.Empty(t, alerts)
}

func TestRemovalAlerts(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	d.Observe(map[string]string{"web": "running", "batch": "running"})
	alerts := d.Observe(map[string]string{"web": "running"})

	require.Len(t, alerts, 1)
	assert.Equal(t, "batch", alerts[0].ResourceID)
	assert.True(t, alerts[0].Removed)
}

func TestRemovalCanBeDisabled(t *testing.T) {
	d := NewDetector(Policy{FailureStatuses: []string{"dead"}})

	d.Observe(map[string]string{"web": "running"})
	alerts := d.Observe(map[string]string{})
	assert.Empty(t, alerts)
}

func TestNewResourceInFailureStateDoesNotAlert(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	d.Observe(map[string]string{"web": "running"})
	alerts := d.Observe(map[string]string{"web": "running", "batch": "dead"})
	assert.Empty(t, alerts, "a resource's first observation never alerts")
}

func TestFailureMatchIsCaseInsensitive(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	d.Observe(map[string]string{"web": "Running"})
	alerts := d.Observe(map[string]string{"web": "Dead"})
	require.Len(t, alerts, 1)
}

func TestSnapshotIsReplacedNotMutated(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	first := map[string]string{"web": "running"}
	d.Observe(first)
	// Mutating the caller's map must not affect the stored snapshot.
	first["web"] = "dead"

	alerts := d.Observe(map[string]string{"web": "dead"})
	require.Len(t, alerts, 1)
	assert.Equal(t, "running", alerts[0].From)
}

func TestResetPrimesFreshBaseline(t *testing.T) {
	d := NewDetector(DefaultPolicy())

	d.Observe(map[string]string{"web": "running"})
	d.Reset()

	alerts := d.Observe(map[string]string{"other": "dead"})
	assert.Empty(t, alerts)
}
