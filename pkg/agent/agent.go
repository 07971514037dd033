// Package agent wires discovery, planning and execution into the
// per-node convergence loop: the thing that actually runs continuously.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/blockagent/pkg/blockdevice"
	"github.com/cuemby/blockagent/pkg/blockdevice/loopback"
	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/discovery"
	"github.com/cuemby/blockagent/pkg/log"
	"github.com/cuemby/blockagent/pkg/metrics"
	"github.com/cuemby/blockagent/pkg/planner"
	"github.com/cuemby/blockagent/pkg/statechange"
	"github.com/cuemby/blockagent/pkg/storage"
	"github.com/cuemby/blockagent/pkg/types"
)

// Agent runs the discover-plan-execute tick on an interval, the way
// Reconciler drives periodic convergence elsewhere in this codebase. There
// is no external control plane here: ClusterState is synthesized each tick
// from the agent's own last-observed NodeState under its own hostname,
// since nothing else in this repo reports cluster-wide state (see
// Non-goals — cross-node coordination is explicitly out of scope).
type Agent struct {
	cfg      *Config
	deployer *deployer.Deployer
	store    storage.Store
	logger   zerolog.Logger

	mu            sync.Mutex
	configuration types.Configuration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Agent from cfg: builds the configured provider,
// opens local storage, and loads the initial desired configuration.
func New(cfg *Config) (*Agent, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	configuration, err := LoadConfiguration(cfg.ConfigurationFile)
	if err != nil {
		store.Close()
		return nil, err
	}

	metrics.RegisterComponent("provider", true, "provider constructed")
	metrics.RegisterComponent("storage", true, "local storage opened")

	return &Agent{
		cfg:           cfg,
		deployer:      deployer.New(cfg.Hostname, provider, cfg.MountRoot),
		store:         store,
		logger:        log.WithComponent("agent").With().Str("hostname", cfg.Hostname).Logger(),
		configuration: configuration,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// NewProvider constructs the blockdevice.Provider cfg selects, for callers
// (like the discover/volumes CLI commands) that need a provider without a
// full Agent.
func NewProvider(cfg *Config) (blockdevice.Provider, error) {
	switch cfg.Provider {
	case "", "loopback":
		return loopback.New(cfg.RootPath)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Close releases the agent's local storage handle.
func (a *Agent) Close() error {
	return a.store.Close()
}

// Start begins the ticker loop in a background goroutine and begins
// watching the configuration file for changes, if one was configured.
func (a *Agent) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current
// tick.
func (a *Agent) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)

	watcher := a.watchConfiguration()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.cfg.TickInterval).Msg("agent started")

	for {
		select {
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.logger.Error().Err(err).Msg("tick failed")
			}
		case <-a.stopCh:
			a.logger.Info().Msg("agent stopped")
			return
		case <-ctx.Done():
			a.logger.Info().Msg("agent stopped")
			return
		}
	}
}

// watchConfiguration starts an fsnotify watch on the configuration file's
// directory, reloading Configuration on the next tick (never mid-tick) when
// the file changes. Returns nil if no configuration file was set or the
// watch could not be established; either is non-fatal, since the agent
// still runs with whatever configuration it loaded at startup.
func (a *Agent) watchConfiguration() *fsnotify.Watcher {
	if a.cfg.ConfigurationFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logger.Warn().Err(err).Msg("could not start configuration watcher")
		return nil
	}

	dir := filepath.Dir(a.cfg.ConfigurationFile)
	if err := watcher.Add(dir); err != nil {
		a.logger.Warn().Err(err).Str("dir", dir).Msg("could not watch configuration directory")
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != a.cfg.ConfigurationFile {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				a.reloadConfiguration()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Warn().Err(err).Msg("configuration watcher error")
			case <-a.stopCh:
				return
			}
		}
	}()

	return watcher
}

func (a *Agent) reloadConfiguration() {
	configuration, err := LoadConfiguration(a.cfg.ConfigurationFile)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to reload configuration, keeping previous")
		return
	}
	a.mu.Lock()
	a.configuration = configuration
	a.mu.Unlock()
	a.logger.Info().Msg("configuration reloaded, effective next tick")
}

// Tick runs one discover-plan-execute cycle and persists the resulting
// NodeState. It holds the same mutex as the fsnotify reload and
// SetConfiguration, so a configuration change never lands mid-tick. A
// `converge` CLI run builds its own Agent in its own process and is not
// serialized by this mutex.
func (a *Agent) Tick(ctx context.Context) (statechange.StateChange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	discoveryTimer := metrics.NewTimer()
	nodeState, nonManifest, err := discovery.DiscoverState(ctx, a.deployer)
	discoveryTimer.ObserveDuration(metrics.DiscoveryDuration)
	if err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		metrics.UpdateComponent("provider", false, err.Error())
		return nil, fmt.Errorf("discover state: %w", err)
	}
	metrics.UpdateComponent("provider", true, "discovery succeeded")

	metrics.ManifestationsTotal.Set(float64(len(nodeState.Manifestations)))
	metrics.NonManifestDatasetsTotal.Set(float64(len(nonManifest.Datasets)))
	if volumes, err := a.deployer.Provider.ListVolumes(ctx); err == nil {
		metrics.VolumesTotal.Set(float64(len(volumes)))
	}

	if err := a.store.SaveNodeState(nodeState); err != nil {
		a.logger.Warn().Err(err).Msg("failed to persist node state")
		metrics.UpdateComponent("storage", false, err.Error())
	} else {
		metrics.UpdateComponent("storage", true, "persisted last tick")
	}
	if err := a.store.SaveConfiguration(a.configuration); err != nil {
		a.logger.Warn().Err(err).Msg("failed to persist configuration")
	}

	clusterState := types.ClusterState{Nodes: map[string]types.NodeState{a.cfg.Hostname: nodeState}}
	plan := planner.CalculateChanges(a.cfg.Hostname, a.cfg.MountRoot, a.configuration, clusterState)

	a.logger.Debug().Str("plan", plan.Describe()).Msg("executing plan")
	if err := plan.Execute(ctx, a.deployer); err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return plan, fmt.Errorf("execute plan: %w", err)
	}

	return plan, nil
}

// NodeState returns the agent's last-persisted NodeState, useful for
// serving a snapshot without waiting on the next tick.
func (a *Agent) NodeState() (types.NodeState, bool, error) {
	return a.store.LoadNodeState()
}

// SetConfiguration replaces the desired configuration immediately, bypassing
// the file watcher; the new configuration is used from the next tick.
func (a *Agent) SetConfiguration(configuration types.Configuration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configuration = configuration
}
