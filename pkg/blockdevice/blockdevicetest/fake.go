// Package blockdevicetest provides an in-memory blockdevice.Provider for
// tests that need a working provider without touching the host.
package blockdevicetest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice"
	"github.com/cuemby/blockagent/pkg/types"
)

// Provider is a goroutine-safe, in-memory blockdevice.Provider.
type Provider struct {
	mu      sync.Mutex
	volumes map[string]types.Volume

	// DevicePaths maps a blockdevice_id to the device path GetDevicePath
	// should report while attached, so tests can simulate mount-table
	// joins. Defaults to "/dev/fake-<id>" if unset.
	DevicePaths map[string]string
}

// New returns an empty Provider.
func New() *Provider {
	return &Provider{volumes: make(map[string]types.Volume), DevicePaths: make(map[string]string)}
}

func (p *Provider) CreateVolume(_ context.Context, datasetID uuid.UUID, size int64) (types.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vol := types.Volume{
		BlockDeviceID: blockdevice.BlockDeviceIDForDataset(datasetID),
		DatasetID:     datasetID,
		Size:          size,
		Host:          types.UnattachedHost,
	}
	p.volumes[vol.BlockDeviceID] = vol
	return vol, nil
}

func (p *Provider) DestroyVolume(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.volumes[id]; !ok {
		return &blockdevice.UnknownVolumeError{BlockDeviceID: id}
	}
	delete(p.volumes, id)
	return nil
}

func (p *Provider) AttachVolume(_ context.Context, id, host string) (types.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vol, ok := p.volumes[id]
	if !ok {
		return types.Volume{}, &blockdevice.UnknownVolumeError{BlockDeviceID: id}
	}
	if vol.Attached() {
		return types.Volume{}, &blockdevice.AlreadyAttachedVolumeError{BlockDeviceID: id}
	}
	vol = vol.WithHost(host)
	p.volumes[id] = vol
	return vol, nil
}

func (p *Provider) DetachVolume(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	vol, ok := p.volumes[id]
	if !ok {
		return &blockdevice.UnknownVolumeError{BlockDeviceID: id}
	}
	if !vol.Attached() {
		return &blockdevice.UnattachedVolumeError{BlockDeviceID: id}
	}
	p.volumes[id] = vol.WithHost(types.UnattachedHost)
	return nil
}

func (p *Provider) ListVolumes(_ context.Context) ([]types.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Volume, 0, len(p.volumes))
	for _, v := range p.volumes {
		out = append(out, v)
	}
	return out, nil
}

func (p *Provider) GetDevicePath(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vol, ok := p.volumes[id]
	if !ok {
		return "", &blockdevice.UnknownVolumeError{BlockDeviceID: id}
	}
	if !vol.Attached() {
		return "", &blockdevice.UnattachedVolumeError{BlockDeviceID: id}
	}
	if path, ok := p.DevicePaths[id]; ok {
		return path, nil
	}
	return "/dev/fake-" + id, nil
}

var _ blockdevice.Provider = (*Provider)(nil)
