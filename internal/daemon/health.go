package daemon

import (
	"context"
	"fmt"
	"time"
)

// BackendStatus is the health of one configured backend, as shown in the
// tray menu.
type BackendStatus struct {
	Name    string
	Enabled bool
	Healthy bool
	Detail  string
}

const healthProbeTimeout = 5 * time.Second

// Health probes every backend that is enabled in settings. Each probe is the
// cheapest read the backend offers; a disabled backend reports Enabled=false
// without being contacted.
func (d *Daemon) Health(ctx context.Context) []BackendStatus {
	s := d.Settings()
	out := make([]BackendStatus, 0, 4)

	probe := func(name string, enabled bool, fn func(ctx context.Context) (string, error)) {
		status := BackendStatus{Name: name, Enabled: enabled}
		if enabled {
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			detail, err := fn(probeCtx)
			cancel()
			if err != nil {
				status.Detail = err.Error()
			} else {
				status.Healthy = true
				status.Detail = detail
			}
		}
		out = append(out, status)
	}

	probe("openbao", s.OpenBao.Enabled, func(ctx context.Context) (string, error) {
		c, err := d.factory.OpenBao()
		if err != nil {
			return "", err
		}
		info, err := c.Health(ctx)
		if err != nil {
			return "", err
		}
		if info.Sealed {
			return "", fmt.Errorf("sealed")
		}
		if info.Standby {
			return "standby " + info.Version, nil
		}
		return info.Version, nil
	})

	probe("consul", s.Consul.Enabled, func(ctx context.Context) (string, error) {
		c, err := d.factory.Consul()
		if err != nil {
			return "", err
		}
		leader, err := c.Leader(ctx)
		if err != nil {
			return "", err
		}
		return "leader " + leader, nil
	})

	probe("nomad", s.Nomad.Enabled, func(ctx context.Context) (string, error) {
		c, err := d.factory.Nomad()
		if err != nil {
			return "", err
		}
		leader, err := c.Leader(ctx)
		if err != nil {
			return "", err
		}
		return "leader " + leader, nil
	})

	probe("boundary", s.Boundary.Enabled, func(ctx context.Context) (string, error) {
		c, err := d.factory.Boundary()
		if err != nil {
			return "", err
		}
		scopes, err := c.Scopes(ctx, "global")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d scopes", len(scopes)), nil
	})

	return out
}
