package discovery

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice/blockdevicetest"
	"github.com/cuemby/blockagent/pkg/deployer"
)

const testHostname = "10.0.0.1"

func TestDiscoverStateMountedVolumeIsManifest(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New(testHostname, provider, "/flocker")

	datasetID := uuid.New()
	vol, err := provider.CreateVolume(context.Background(), datasetID, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.AttachVolume(context.Background(), vol.BlockDeviceID, testHostname); err != nil {
		t.Fatal(err)
	}

	devicePath := "/dev/loop7"
	provider.DevicePaths[vol.BlockDeviceID] = devicePath
	mounts := func() ([]mountPoint, error) {
		return []mountPoint{{Device: devicePath, Mountpoint: d.MountPathFor(datasetID)}}, nil
	}

	nodeState, nonManifest, err := discoverState(context.Background(), d, mounts)
	if err != nil {
		t.Fatalf("discoverState() error = %v", err)
	}

	if _, ok := nodeState.Manifestations[datasetID]; !ok {
		t.Error("expected dataset to be reported as a manifestation")
	}
	if _, ok := nonManifest.Datasets[datasetID]; ok {
		t.Error("expected dataset not to appear in NonManifestDatasets")
	}
	if got := nodeState.Mountpoints[datasetID]; got != d.MountPathFor(datasetID) {
		t.Errorf("mountpoint = %q, want %q", got, d.MountPathFor(datasetID))
	}
}

func TestDiscoverStateAttachedButNotMountedIsNonManifest(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New(testHostname, provider, "/flocker")

	datasetID := uuid.New()
	vol, err := provider.CreateVolume(context.Background(), datasetID, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.AttachVolume(context.Background(), vol.BlockDeviceID, testHostname); err != nil {
		t.Fatal(err)
	}

	noMounts := func() ([]mountPoint, error) { return nil, nil }

	nodeState, nonManifest, err := discoverState(context.Background(), d, noMounts)
	if err != nil {
		t.Fatalf("discoverState() error = %v", err)
	}
	if _, ok := nodeState.Manifestations[datasetID]; ok {
		t.Error("expected half-converged (attached, unmounted) dataset not to be a manifestation")
	}
	if _, ok := nonManifest.Datasets[datasetID]; !ok {
		t.Error("expected half-converged dataset to appear in NonManifestDatasets")
	}
}

func TestDiscoverStateMountedAtWrongPathIsNonManifest(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New(testHostname, provider, "/flocker")

	datasetID := uuid.New()
	vol, err := provider.CreateVolume(context.Background(), datasetID, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.AttachVolume(context.Background(), vol.BlockDeviceID, testHostname); err != nil {
		t.Fatal(err)
	}

	devicePath := "/dev/loop7"
	provider.DevicePaths[vol.BlockDeviceID] = devicePath
	wrongMounts := func() ([]mountPoint, error) {
		return []mountPoint{{Device: devicePath, Mountpoint: "/somewhere/else"}}, nil
	}

	nodeState, nonManifest, err := discoverState(context.Background(), d, wrongMounts)
	if err != nil {
		t.Fatalf("discoverState() error = %v", err)
	}
	if _, ok := nodeState.Manifestations[datasetID]; ok {
		t.Error("expected dataset mounted at wrong path not to be a manifestation")
	}
	if _, ok := nonManifest.Datasets[datasetID]; !ok {
		t.Error("expected dataset mounted at wrong path to appear in NonManifestDatasets")
	}
}

func TestDiscoverStateUnattachedVolumeIsNonManifestClusterWide(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New(testHostname, provider, "/flocker")

	datasetID := uuid.New()
	if _, err := provider.CreateVolume(context.Background(), datasetID, 1024); err != nil {
		t.Fatal(err)
	}

	noMounts := func() ([]mountPoint, error) { return nil, nil }
	nodeState, nonManifest, err := discoverState(context.Background(), d, noMounts)
	if err != nil {
		t.Fatalf("discoverState() error = %v", err)
	}
	if len(nodeState.Manifestations) != 0 {
		t.Error("expected no manifestations for an unattached volume")
	}
	if _, ok := nonManifest.Datasets[datasetID]; !ok {
		t.Error("expected unattached volume's dataset in NonManifestDatasets")
	}
}

func TestDiscoverStateVolumeAttachedElsewhereIsIgnored(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New(testHostname, provider, "/flocker")

	datasetID := uuid.New()
	vol, err := provider.CreateVolume(context.Background(), datasetID, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provider.AttachVolume(context.Background(), vol.BlockDeviceID, "10.0.0.2"); err != nil {
		t.Fatal(err)
	}

	noMounts := func() ([]mountPoint, error) { return nil, nil }
	nodeState, nonManifest, err := discoverState(context.Background(), d, noMounts)
	if err != nil {
		t.Fatalf("discoverState() error = %v", err)
	}
	if len(nodeState.Manifestations) != 0 {
		t.Error("expected no local manifestations")
	}
	if _, ok := nonManifest.Datasets[datasetID]; ok {
		t.Error("a volume attached to a different host is neither manifest nor non-manifest here")
	}
}
