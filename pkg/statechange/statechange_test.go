package statechange

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice/blockdevicetest"
	"github.com/cuemby/blockagent/pkg/deployer"
)

type fakeChange struct {
	name    string
	fail    bool
	ran     *bool
	blockOn chan struct{}
}

func (c fakeChange) Describe() string { return c.name }

func (c fakeChange) Execute(ctx context.Context, d *deployer.Deployer) error {
	if c.blockOn != nil {
		<-c.blockOn
	}
	if c.ran != nil {
		*c.ran = true
	}
	if c.fail {
		return errors.New(c.name + " failed")
	}
	return nil
}

func TestSequentiallyStopsOnFirstFailure(t *testing.T) {
	var secondRan, thirdRan bool
	seq := Sequentially{Changes: []StateChange{
		fakeChange{name: "first", fail: true},
		fakeChange{name: "second", ran: &secondRan},
		fakeChange{name: "third", ran: &thirdRan},
	}}

	err := seq.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if secondRan || thirdRan {
		t.Error("expected remaining siblings not to run after first failure")
	}
}

func TestInParallelRunsAllChildrenDespiteFailure(t *testing.T) {
	var firstRan, secondRan bool
	par := InParallel{Changes: []StateChange{
		fakeChange{name: "first", fail: true, ran: &firstRan},
		fakeChange{name: "second", ran: &secondRan},
	}}

	err := par.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if !firstRan || !secondRan {
		t.Error("expected both children to run to completion")
	}
}

func TestInParallelSucceedsWhenAllChildrenSucceed(t *testing.T) {
	par := InParallel{Changes: []StateChange{
		fakeChange{name: "first"},
		fakeChange{name: "second"},
	}}
	if err := par.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestDestroyBlockDeviceDatasetNoMatchingVolumeIsNoop(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New("10.0.0.1", provider, "/flocker")

	change := DestroyBlockDeviceDataset{DatasetID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	if err := change.Execute(context.Background(), d); err != nil {
		t.Fatalf("Execute() error = %v, want nil for no matching volume", err)
	}

	volumes, err := provider.ListVolumes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(volumes) != 0 {
		t.Errorf("expected no volumes to be created as a side effect, got %d", len(volumes))
	}
}

func TestDetachVolumeIsIdempotentOnAlreadyUnattached(t *testing.T) {
	provider := blockdevicetest.New()
	d := deployer.New("10.0.0.1", provider, "/flocker")

	vol, err := provider.CreateVolume(context.Background(), uuid.New(), 1024)
	if err != nil {
		t.Fatal(err)
	}

	change := DetachVolume{Volume: vol}
	if err := change.Execute(context.Background(), d); err != nil {
		t.Fatalf("Execute() error = %v, want nil when already unattached", err)
	}
}
