// Package blockdevice defines the abstract contract every block-device
// backend implements, and the typed errors backends use to report
// precondition failures.
package blockdevice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/types"
)

// Provider is the operations a block-device backend must support. All
// operations are synchronous from the caller's viewpoint; non-blocking
// wrapping (goroutines, timeouts) is the executor's concern, not the
// provider's.
type Provider interface {
	// CreateVolume allocates a new, unattached volume for dataset of the
	// given size in bytes.
	CreateVolume(ctx context.Context, datasetID uuid.UUID, size int64) (types.Volume, error)

	// DestroyVolume removes an unattached volume. Returns *UnknownVolumeError
	// if no such volume exists.
	DestroyVolume(ctx context.Context, blockDeviceID string) error

	// AttachVolume attaches an unattached volume to host. Returns
	// *UnknownVolumeError or *AlreadyAttachedVolumeError.
	AttachVolume(ctx context.Context, blockDeviceID, host string) (types.Volume, error)

	// DetachVolume detaches an attached volume. Returns *UnknownVolumeError
	// or *UnattachedVolumeError.
	DetachVolume(ctx context.Context, blockDeviceID string) error

	// ListVolumes is the authoritative enumeration of every volume the
	// backend knows about, reflecting any prior mutation from this process.
	ListVolumes(ctx context.Context) ([]types.Volume, error)

	// GetDevicePath returns the local device path for an attached volume.
	// Returns *UnknownVolumeError or *UnattachedVolumeError.
	GetDevicePath(ctx context.Context, blockDeviceID string) (string, error)
}

// UnknownVolumeError is returned when an operation names a blockdevice_id
// the backend has no record of.
type UnknownVolumeError struct {
	BlockDeviceID string
}

func (e *UnknownVolumeError) Error() string {
	return fmt.Sprintf("unknown volume: %s", e.BlockDeviceID)
}

// AlreadyAttachedVolumeError is returned by AttachVolume when the volume is
// already attached to some host. Callers should treat this as an
// already-satisfied precondition rather than a hard failure.
type AlreadyAttachedVolumeError struct {
	BlockDeviceID string
}

func (e *AlreadyAttachedVolumeError) Error() string {
	return fmt.Sprintf("volume already attached: %s", e.BlockDeviceID)
}

// UnattachedVolumeError is returned by DetachVolume and GetDevicePath when
// the volume is not currently attached to any host.
type UnattachedVolumeError struct {
	BlockDeviceID string
}

func (e *UnattachedVolumeError) Error() string {
	return fmt.Sprintf("volume not attached: %s", e.BlockDeviceID)
}

// BlockDeviceIDForDataset derives the cluster-unique blockdevice_id for a
// dataset. Every backend in this repository uses this derivation; a cloud
// backend with its own ID allocator would not.
func BlockDeviceIDForDataset(datasetID uuid.UUID) string {
	return "block-" + datasetID.String()
}

// DatasetIDForBlockDevice reverses BlockDeviceIDForDataset.
func DatasetIDForBlockDevice(blockDeviceID string) (uuid.UUID, error) {
	const prefix = "block-"
	if len(blockDeviceID) <= len(prefix) || blockDeviceID[:len(prefix)] != prefix {
		return uuid.Nil, fmt.Errorf("blockdevice id %q missing %q prefix", blockDeviceID, prefix)
	}
	return uuid.Parse(blockDeviceID[len(prefix):])
}

// FindByDatasetID scans volumes for the one whose DatasetID matches. It
// returns ok=false if none match, and an error if more than one does — the
// backend promises at most one live volume per dataset, so a second match
// is treated as a provider invariant violation rather than silently picking
// one.
func FindByDatasetID(volumes []types.Volume, datasetID uuid.UUID) (vol types.Volume, ok bool, err error) {
	for _, v := range volumes {
		if v.DatasetID != datasetID {
			continue
		}
		if ok {
			return types.Volume{}, false, fmt.Errorf("%w: dataset %s has volumes %s and %s", ErrMultipleVolumesForDataset, datasetID, vol.BlockDeviceID, v.BlockDeviceID)
		}
		vol, ok = v, true
	}
	return vol, ok, nil
}

// ErrMultipleVolumesForDataset signals that the provider's one-volume-per-
// dataset invariant has been violated.
var ErrMultipleVolumesForDataset = fmt.Errorf("multiple volumes for dataset")

// AttachedVolumeError is returned by DestroyVolume when the volume is still
// attached. Destroying an attached volume is the caller's job to avoid by
// detaching first (DestroyBlockDeviceDataset always sequences Detach before
// Destroy); the backend does not detach on the caller's behalf.
type AttachedVolumeError struct {
	BlockDeviceID string
}

func (e *AttachedVolumeError) Error() string {
	return fmt.Sprintf("volume still attached, detach before destroying: %s", e.BlockDeviceID)
}
