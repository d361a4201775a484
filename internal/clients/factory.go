package clients

import (
	"fmt"
	"sync"

	"github.com/opstray-io/opstray/internal/config"
)

// ErrDisabled is returned when a backend is turned off in settings.
type ErrDisabled struct {
	Backend string
}

func (e *ErrDisabled) Error() string {
	return fmt.Sprintf("%s is disabled in settings", e.Backend)
}

// Factory constructs and caches backend clients from the current settings.
// Reset drops the cache so the next accessor rebuilds against fresh settings;
// callers must not hold clients across a Reset.
type Factory struct {
	mu       sync.Mutex
	settings *config.Settings

	openbao  *OpenBao
	consul   *Consul
	nomad    *Nomad
	boundary *Boundary
	opentofu *OpenTofu
	packer   *Packer
}

// NewFactory creates a factory bound to the given settings.
func NewFactory(settings *config.Settings) *Factory {
	return &Factory{settings: settings}
}

// Reset swaps in new settings and drops every cached client.
func (f *Factory) Reset(settings *config.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = settings
	f.openbao = nil
	f.consul = nil
	f.nomad = nil
	f.boundary = nil
	f.opentofu = nil
	f.packer = nil
}

// Settings returns the settings the factory currently builds against.
func (f *Factory) Settings() *config.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// OpenBao returns the cached OpenBao client, building it on first use.
func (f *Factory) OpenBao() (*OpenBao, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.OpenBao.Enabled {
		return nil, &ErrDisabled{Backend: "openbao"}
	}
	if f.openbao == nil {
		c, err := NewOpenBao(f.settings.OpenBao)
		if err != nil {
			return nil, err
		}
		f.openbao = c
	}
	return f.openbao, nil
}

// Consul returns the cached Consul client, building it on first use.
func (f *Factory) Consul() (*Consul, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.Consul.Enabled {
		return nil, &ErrDisabled{Backend: "consul"}
	}
	if f.consul == nil {
		c, err := NewConsul(f.settings.Consul)
		if err != nil {
			return nil, err
		}
		f.consul = c
	}
	return f.consul, nil
}

// Nomad returns the cached Nomad client, building it on first use.
func (f *Factory) Nomad() (*Nomad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.Nomad.Enabled {
		return nil, &ErrDisabled{Backend: "nomad"}
	}
	if f.nomad == nil {
		c, err := NewNomad(f.settings.Nomad)
		if err != nil {
			return nil, err
		}
		f.nomad = c
	}
	return f.nomad, nil
}

// Boundary returns the cached Boundary client, building it on first use.
func (f *Factory) Boundary() (*Boundary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.Boundary.Enabled {
		return nil, &ErrDisabled{Backend: "boundary"}
	}
	if f.boundary == nil {
		c, err := NewBoundary(f.settings.Boundary, "")
		if err != nil {
			return nil, err
		}
		f.boundary = c
	}
	return f.boundary, nil
}

// OpenTofu returns the cached OpenTofu client, building it on first use.
func (f *Factory) OpenTofu() (*OpenTofu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.OpenTofu.Enabled {
		return nil, &ErrDisabled{Backend: "opentofu"}
	}
	if f.opentofu == nil {
		f.opentofu = NewOpenTofu(f.settings.OpenTofu)
	}
	return f.opentofu, nil
}

// Packer returns the cached Packer client, building it on first use.
func (f *Factory) Packer() (*Packer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settings.Packer.Enabled {
		return nil, &ErrDisabled{Backend: "packer"}
	}
	if f.packer == nil {
		f.packer = NewPacker(f.settings.Packer)
	}
	return f.packer, nil
}
