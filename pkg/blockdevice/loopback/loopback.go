// Package loopback is the reference block-device provider: it simulates a
// cloud volume service using sparse files and Linux loop devices, and is
// used for testing and single-node demos.
package loopback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice"
	"github.com/cuemby/blockagent/pkg/types"
)

const (
	unattachedDir = "unattached"
	attachedDir   = "attached"
)

// Provider is a blockdevice.Provider backed by a directory tree of sparse
// files and losetup. The root_path directory tree is the only persistent
// on-disk state this package owns; it must not be shared between
// processes.
type Provider struct {
	rootPath string
}

// New returns a Provider rooted at rootPath, creating the unattached/ and
// attached/ subdirectories if they don't already exist. Pre-existing
// directories (e.g. from a prior run) are tolerated.
func New(rootPath string) (*Provider, error) {
	for _, sub := range []string{unattachedDir, attachedDir} {
		if err := os.MkdirAll(filepath.Join(rootPath, sub), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	return &Provider{rootPath: rootPath}, nil
}

var _ blockdevice.Provider = (*Provider)(nil)

func (p *Provider) unattachedPath(blockDeviceID string) string {
	return filepath.Join(p.rootPath, unattachedDir, blockDeviceID)
}

func (p *Provider) attachedPath(host, blockDeviceID string) string {
	return filepath.Join(p.rootPath, attachedDir, host, blockDeviceID)
}

// CreateVolume creates a sparse file of the requested size under
// unattached/ and returns the resulting (unattached) volume.
func (p *Provider) CreateVolume(ctx context.Context, datasetID uuid.UUID, size int64) (types.Volume, error) {
	blockDeviceID := blockdevice.BlockDeviceIDForDataset(datasetID)
	path := p.unattachedPath(blockDeviceID)

	f, err := os.Create(path)
	if err != nil {
		return types.Volume{}, fmt.Errorf("create backing file %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return types.Volume{}, fmt.Errorf("truncate backing file %s to %d bytes: %w", path, size, err)
	}

	return types.Volume{
		BlockDeviceID: blockDeviceID,
		DatasetID:     datasetID,
		Size:          size,
		Host:          types.UnattachedHost,
	}, nil
}

// DestroyVolume removes the backing file for an unattached volume.
func (p *Provider) DestroyVolume(ctx context.Context, blockDeviceID string) error {
	volumes, err := p.ListVolumes(ctx)
	if err != nil {
		return err
	}
	vol, ok := findByID(volumes, blockDeviceID)
	if !ok {
		return &blockdevice.UnknownVolumeError{BlockDeviceID: blockDeviceID}
	}
	if vol.Attached() {
		return &blockdevice.AttachedVolumeError{BlockDeviceID: blockDeviceID}
	}
	if err := os.Remove(p.unattachedPath(blockDeviceID)); err != nil {
		return fmt.Errorf("remove backing file for %s: %w", blockDeviceID, err)
	}
	return nil
}

// AttachVolume moves the backing file from unattached/ to
// attached/<host>/ and binds a loop device to it.
func (p *Provider) AttachVolume(ctx context.Context, blockDeviceID, host string) (types.Volume, error) {
	volumes, err := p.ListVolumes(ctx)
	if err != nil {
		return types.Volume{}, err
	}
	vol, ok := findByID(volumes, blockDeviceID)
	if !ok {
		return types.Volume{}, &blockdevice.UnknownVolumeError{BlockDeviceID: blockDeviceID}
	}
	if vol.Attached() {
		return types.Volume{}, &blockdevice.AlreadyAttachedVolumeError{BlockDeviceID: blockDeviceID}
	}
	// A re-created volume can sit in unattached/ while an attached copy
	// with the same id still exists; refuse rather than overwrite it.
	for _, v := range volumes {
		if v.BlockDeviceID == blockDeviceID && v.Attached() {
			return types.Volume{}, &blockdevice.AlreadyAttachedVolumeError{BlockDeviceID: blockDeviceID}
		}
	}

	destDir := filepath.Join(p.rootPath, attachedDir, host)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return types.Volume{}, fmt.Errorf("create host directory %s: %w", destDir, err)
	}
	src := p.unattachedPath(blockDeviceID)
	dst := p.attachedPath(host, blockDeviceID)
	if err := os.Rename(src, dst); err != nil {
		return types.Volume{}, fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	if _, err := losetupFind(ctx, dst); err != nil {
		// best effort rollback so discovery doesn't see a half-moved file
		_ = os.Rename(dst, src)
		return types.Volume{}, fmt.Errorf("bind loop device to %s: %w", dst, err)
	}

	return vol.WithHost(host), nil
}

// DetachVolume releases the loop device bound to an attached volume's
// backing file and moves the file back to unattached/.
func (p *Provider) DetachVolume(ctx context.Context, blockDeviceID string) error {
	volumes, err := p.ListVolumes(ctx)
	if err != nil {
		return err
	}
	vol, ok := findByID(volumes, blockDeviceID)
	if !ok {
		return &blockdevice.UnknownVolumeError{BlockDeviceID: blockDeviceID}
	}
	if !vol.Attached() {
		return &blockdevice.UnattachedVolumeError{BlockDeviceID: blockDeviceID}
	}

	src := p.attachedPath(vol.Host, blockDeviceID)
	device, err := p.devicePathForBacking(ctx, src)
	if err != nil {
		return err
	}
	if err := losetupDetach(ctx, device); err != nil {
		return fmt.Errorf("detach loop device %s: %w", device, err)
	}

	dst := p.unattachedPath(blockDeviceID)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

// ListVolumes enumerates unattached/* and attached/*/*.
func (p *Provider) ListVolumes(ctx context.Context) ([]types.Volume, error) {
	var volumes []types.Volume

	unattachedEntries, err := os.ReadDir(filepath.Join(p.rootPath, unattachedDir))
	if err != nil {
		return nil, fmt.Errorf("list unattached directory: %w", err)
	}
	for _, entry := range unattachedEntries {
		if entry.IsDir() {
			continue
		}
		vol, err := p.volumeFromFile(entry.Name(), types.UnattachedHost, filepath.Join(p.rootPath, unattachedDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, vol)
	}

	hostDirs, err := os.ReadDir(filepath.Join(p.rootPath, attachedDir))
	if err != nil {
		return nil, fmt.Errorf("list attached directory: %w", err)
	}
	for _, hostDir := range hostDirs {
		if !hostDir.IsDir() {
			continue
		}
		host := hostDir.Name()
		hostPath := filepath.Join(p.rootPath, attachedDir, host)
		entries, err := os.ReadDir(hostPath)
		if err != nil {
			return nil, fmt.Errorf("list attached/%s directory: %w", host, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			vol, err := p.volumeFromFile(entry.Name(), host, filepath.Join(hostPath, entry.Name()))
			if err != nil {
				return nil, err
			}
			volumes = append(volumes, vol)
		}
	}

	return volumes, nil
}

func (p *Provider) volumeFromFile(blockDeviceID, host, path string) (types.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Volume{}, fmt.Errorf("stat %s: %w", path, err)
	}
	datasetID, err := blockdevice.DatasetIDForBlockDevice(blockDeviceID)
	if err != nil {
		return types.Volume{}, fmt.Errorf("backing file %s has malformed name: %w", path, err)
	}
	return types.Volume{
		BlockDeviceID: blockDeviceID,
		DatasetID:     datasetID,
		Size:          info.Size(),
		Host:          host,
	}, nil
}

// GetDevicePath returns the loop device bound to an attached volume's
// backing file.
func (p *Provider) GetDevicePath(ctx context.Context, blockDeviceID string) (string, error) {
	volumes, err := p.ListVolumes(ctx)
	if err != nil {
		return "", err
	}
	vol, ok := findByID(volumes, blockDeviceID)
	if !ok {
		return "", &blockdevice.UnknownVolumeError{BlockDeviceID: blockDeviceID}
	}
	if !vol.Attached() {
		return "", &blockdevice.UnattachedVolumeError{BlockDeviceID: blockDeviceID}
	}
	return p.devicePathForBacking(ctx, p.attachedPath(vol.Host, blockDeviceID))
}

func (p *Provider) devicePathForBacking(ctx context.Context, backingPath string) (string, error) {
	listing, err := losetupList(ctx)
	if err != nil {
		return "", err
	}
	device, ok := deviceForBackingFile(listing, backingPath)
	if !ok {
		return "", fmt.Errorf("no loop device bound to %s", backingPath)
	}
	return device, nil
}

func findByID(volumes []types.Volume, blockDeviceID string) (types.Volume, bool) {
	for _, v := range volumes {
		if v.BlockDeviceID == blockDeviceID {
			return v, true
		}
	}
	return types.Volume{}, false
}
