// Package statechange implements the state-change operations a plan is
// built from: atomic, logged, composable mutations of local storage. Each
// variant is a tagged alternative of the single StateChange interface;
// there is no open-ended inheritance hierarchy.
package statechange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice"
	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/hostutil"
	"github.com/cuemby/blockagent/pkg/log"
	"github.com/cuemby/blockagent/pkg/types"
)

// StateChange is a deferred mutation: something the planner decided should
// happen, not yet applied. Execute runs it against a Deployer exactly once;
// StateChange values are discarded after execution.
type StateChange interface {
	// Execute performs the mutation, opening and closing its own structured
	// logging action around the work.
	Execute(ctx context.Context, d *deployer.Deployer) error

	// Describe returns a short human string for logging/CLI output.
	Describe() string
}

// CreateBlockDeviceDataset creates, attaches, formats and mounts a new
// volume for dataset at mountpoint.
type CreateBlockDeviceDataset struct {
	Dataset    types.Dataset
	Mountpoint string
}

const (
	actionCreate       = "agent:blockdevice:create"
	actionDestroy      = "agent:blockdevice:destroy"
	actionUnmount      = "agent:blockdevice:unmount"
	actionDetachVolume = "agent:blockdevice:detach_volume"
	actionDestroyVol   = "agent:blockdevice:destroy_volume"
)

func (c CreateBlockDeviceDataset) Describe() string {
	return fmt.Sprintf("create dataset %s at %s", c.Dataset.ID, c.Mountpoint)
}

func (c CreateBlockDeviceDataset) Execute(ctx context.Context, d *deployer.Deployer) error {
	logger := log.WithDatasetID(c.Dataset.ID.String())
	return runLoggedAction(logger, actionCreate, func() error {
		vol, err := d.Provider.CreateVolume(ctx, c.Dataset.ID, c.Dataset.MaximumSize)
		if err != nil {
			return fmt.Errorf("create volume for dataset %s: %w", c.Dataset.ID, err)
		}

		attached, err := d.Provider.AttachVolume(ctx, vol.BlockDeviceID, d.Hostname)
		if err != nil {
			return fmt.Errorf("attach volume %s: %w", vol.BlockDeviceID, err)
		}

		devicePath, err := d.Provider.GetDevicePath(ctx, attached.BlockDeviceID)
		if err != nil {
			return fmt.Errorf("get device path for %s: %w", attached.BlockDeviceID, err)
		}

		if err := hostutil.MakeExt4Filesystem(ctx, devicePath); err != nil {
			return fmt.Errorf("format %s: %w", devicePath, err)
		}

		if err := hostutil.Mount(ctx, devicePath, c.Mountpoint); err != nil {
			return fmt.Errorf("mount %s at %s: %w", devicePath, c.Mountpoint, err)
		}

		logger.Info().
			Str("device_path", devicePath).
			Str("blockdevice_id", attached.BlockDeviceID).
			Int64("size", attached.Size).
			Str("host", attached.Host).
			Msg("dataset created")
		return nil
	})
}

// DestroyBlockDeviceDataset tears down the volume backing a dataset, if any.
// Locating no matching volume is success with no effect: destroying a
// dataset that was never created (or already destroyed) is idempotent.
type DestroyBlockDeviceDataset struct {
	DatasetID uuid.UUID
}

func (c DestroyBlockDeviceDataset) Describe() string {
	return fmt.Sprintf("destroy dataset %s", c.DatasetID)
}

func (c DestroyBlockDeviceDataset) Execute(ctx context.Context, d *deployer.Deployer) error {
	logger := log.WithDatasetID(c.DatasetID.String())
	return runLoggedAction(logger, actionDestroy, func() error {
		volumes, err := d.Provider.ListVolumes(ctx)
		if err != nil {
			return fmt.Errorf("list volumes: %w", err)
		}
		vol, ok, err := blockdevice.FindByDatasetID(volumes, c.DatasetID)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug().Msg("no volume for dataset, destroy is a no-op")
			return nil
		}

		seq := Sequentially{
			Changes: []StateChange{
				UnmountBlockDevice{Volume: vol},
				DetachVolume{Volume: vol},
				DestroyVolume{Volume: vol},
			},
		}
		return seq.Execute(ctx, d)
	})
}

// UnmountBlockDevice unmounts a volume that is attached to this host and
// currently mounted.
type UnmountBlockDevice struct {
	Volume types.Volume
}

func (c UnmountBlockDevice) Describe() string {
	return fmt.Sprintf("unmount volume %s", c.Volume.BlockDeviceID)
}

func (c UnmountBlockDevice) Execute(ctx context.Context, d *deployer.Deployer) error {
	logger := log.WithVolumeID(c.Volume.BlockDeviceID)
	return runLoggedAction(logger, actionUnmount, func() error {
		devicePath, err := d.Provider.GetDevicePath(ctx, c.Volume.BlockDeviceID)
		if err != nil {
			var unattached *blockdevice.UnattachedVolumeError
			if isUnattachedVolumeError(err, &unattached) {
				logger.Debug().Msg("volume already unattached, nothing to unmount")
				return nil
			}
			return fmt.Errorf("get device path for %s: %w", c.Volume.BlockDeviceID, err)
		}
		if err := hostutil.Unmount(ctx, devicePath); err != nil {
			return fmt.Errorf("unmount %s: %w", devicePath, err)
		}
		return nil
	})
}

// DetachVolume delegates to the provider.
type DetachVolume struct {
	Volume types.Volume
}

func (c DetachVolume) Describe() string {
	return fmt.Sprintf("detach volume %s", c.Volume.BlockDeviceID)
}

func (c DetachVolume) Execute(ctx context.Context, d *deployer.Deployer) error {
	logger := log.WithVolumeID(c.Volume.BlockDeviceID)
	return runLoggedAction(logger, actionDetachVolume, func() error {
		err := d.Provider.DetachVolume(ctx, c.Volume.BlockDeviceID)
		var unattached *blockdevice.UnattachedVolumeError
		if isUnattachedVolumeError(err, &unattached) {
			logger.Debug().Msg("volume already unattached")
			return nil
		}
		return err
	})
}

// DestroyVolume delegates to the provider.
type DestroyVolume struct {
	Volume types.Volume
}

func (c DestroyVolume) Describe() string {
	return fmt.Sprintf("destroy volume %s", c.Volume.BlockDeviceID)
}

func (c DestroyVolume) Execute(ctx context.Context, d *deployer.Deployer) error {
	logger := log.WithVolumeID(c.Volume.BlockDeviceID)
	return runLoggedAction(logger, actionDestroyVol, func() error {
		return d.Provider.DestroyVolume(ctx, c.Volume.BlockDeviceID)
	})
}

// Sequentially runs its children in order, stopping at the first failure.
type Sequentially struct {
	Changes []StateChange
}

func (s Sequentially) Describe() string {
	return fmt.Sprintf("sequentially(%d changes)", len(s.Changes))
}

func (s Sequentially) Execute(ctx context.Context, d *deployer.Deployer) error {
	for _, change := range s.Changes {
		if err := change.Execute(ctx, d); err != nil {
			return fmt.Errorf("%s: %w", change.Describe(), err)
		}
	}
	return nil
}

// InParallel starts all children without awaiting each, then joins. Every
// child is allowed to finish its attempt even if a sibling fails; the
// aggregate fails if any child failed.
type InParallel struct {
	Changes []StateChange
}

func (p InParallel) Describe() string {
	return fmt.Sprintf("in_parallel(%d changes)", len(p.Changes))
}

func (p InParallel) Execute(ctx context.Context, d *deployer.Deployer) error {
	var wg sync.WaitGroup
	errs := make([]error, len(p.Changes))

	for i, change := range p.Changes {
		wg.Add(1)
		go func(i int, change StateChange) {
			defer wg.Done()
			if err := change.Execute(ctx, d); err != nil {
				errs[i] = fmt.Errorf("%s: %w", change.Describe(), err)
			}
		}(i, change)
	}
	wg.Wait()

	var joined []error
	for _, err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	if len(joined) == 0 {
		return nil
	}
	return errors.Join(joined...)
}

func isUnattachedVolumeError(err error, target **blockdevice.UnattachedVolumeError) bool {
	return err != nil && errors.As(err, target)
}
