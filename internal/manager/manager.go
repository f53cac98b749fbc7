// Package manager owns the connection-management state: the endpoint
// registry, the user's selection preference and the single authoritative
// active endpoint id. All mutations funnel through it and every mutation is
// followed synchronously by a reselection, so the active id can never lag a
// state change.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
	"github.com/InfamousVague/Wraith-sub005/internal/discovery"
	"github.com/InfamousVague/Wraith-sub005/internal/notifier"
	"github.com/InfamousVague/Wraith-sub005/internal/prefs"
	"github.com/InfamousVague/Wraith-sub005/internal/prober"
	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	"github.com/InfamousVague/Wraith-sub005/internal/selector"
	"github.com/InfamousVague/Wraith-sub005/internal/store"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
	"github.com/InfamousVague/Wraith-sub005/pkg/monitoring"
)

// Config wires the manager's collaborators and schedule.
type Config struct {
	Discoverer *discovery.Discoverer
	Prober     *prober.Prober
	Store      store.Store
	Notifier   *notifier.FailoverNotifier
	Logger     logging.Logger
	// Metrics may be nil.
	Metrics *monitoring.ConnectionMetrics
	// Remote is the profile preference client; nil disables remote sync.
	Remote *prefs.RemoteClient

	// Fallbacks seeds the registry when no fresh endpoint cache exists.
	Fallbacks         []registry.Endpoint
	DefaultEndpointID string
	Development       bool

	SweepInterval       time.Duration
	DevSweepInterval    time.Duration
	RediscoveryInterval time.Duration
	InitialSweepDelay   time.Duration
}

// Manager is the connection-management scheduler and state owner.
type Manager struct {
	cfg      Config
	registry *registry.Registry
	logger   logging.Entry

	mu       sync.RWMutex
	pref     prefs.Preference
	activeID string

	// generation invalidates async results that resolve after Close or after
	// the state they were computed against was replaced.
	generation atomic.Uint64
	sweeping   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Manager and restores persisted state: the preference record,
// the last active endpoint id, and the endpoint set (fresh cache when one
// exists, the static fallback seed otherwise). Call Start to begin the
// schedule.
func New(cfg Config) *Manager {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.DevSweepInterval == 0 {
		cfg.DevSweepInterval = 5 * time.Second
	}
	if cfg.RediscoveryInterval == 0 {
		cfg.RediscoveryInterval = 5 * time.Minute
	}
	if cfg.InitialSweepDelay == 0 {
		cfg.InitialSweepDelay = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, "manager"),
		ctx:    ctx,
		cancel: cancel,
	}

	seed := cfg.Fallbacks
	if cached, ok := cfg.Discoverer.LoadCached(); ok {
		m.logger.WithField("endpoints", len(cached)).Info("Seeding registry from endpoint cache")
		seed = withLocalDev(cached, cfg.Fallbacks)
	}
	m.registry = registry.New(seed)

	m.pref = m.loadPreference()
	m.activeID = m.loadActiveID()
	if changed, prev := m.reselectLocked(); changed {
		// Persisted state can disagree with the seed (pin removed while the
		// daemon was down); resolve before anything observes the active id.
		m.logger.WithFields(logging.Fields{"previous": prev, "active": m.activeID}).
			Info("Persisted active endpoint no longer valid, reselected")
	}
	return m
}

// withLocalDev carries the configured local-dev endpoint into a cached seed
// that predates it.
func withLocalDev(seed, fallbacks []registry.Endpoint) []registry.Endpoint {
	for _, ep := range seed {
		if ep.IsLocalDev {
			return seed
		}
	}
	for _, fb := range fallbacks {
		if fb.IsLocalDev {
			return append(append([]registry.Endpoint(nil), seed...), fb)
		}
	}
	return seed
}

// Start launches the schedule: an immediate async discovery, a delayed
// initial sweep, then recurring sweeps and re-discovery.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()

	gen := m.generation.Load()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.discover(gen)
	}()
}

// Close stops the schedule and waits for in-flight work to settle. Results
// that resolve after Close are discarded.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.generation.Add(1)
		m.cancel()
	})
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()

	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()
	rediscover := time.NewTicker(m.cfg.RediscoveryInterval)
	defer rediscover.Stop()
	initial := time.NewTimer(m.cfg.InitialSweepDelay)
	defer initial.Stop()

	// The dev ticker only exists in development; a nil channel never fires.
	var devC <-chan time.Time
	if m.cfg.Development {
		dev := time.NewTicker(m.cfg.DevSweepInterval)
		defer dev.Stop()
		devC = dev.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-initial.C:
			m.startSweep(m.registry.Snapshot())
		case <-sweep.C:
			m.startSweep(m.registry.Snapshot())
		case <-devC:
			if ep, ok := m.registry.LocalDev(); ok {
				m.startSweep([]registry.Endpoint{ep})
			}
		case <-rediscover.C:
			gen := m.generation.Load()
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.discover(gen)
			}()
		}
	}
}

// startSweep probes the given endpoints in the background. A sweep that is
// still in flight makes this a no-op; overlapping sweeps would interleave
// stale results.
func (m *Manager) startSweep(eps []registry.Endpoint) {
	if len(eps) == 0 || m.ctx.Err() != nil || !m.sweeping.CompareAndSwap(false, true) {
		return
	}
	gen := m.generation.Load()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sweeping.Store(false)
		results := m.cfg.Prober.Sweep(m.ctx, eps)
		m.applySweep(results, gen)
	}()
}

func (m *Manager) applySweep(results []prober.SweepResult, gen uint64) {
	m.mu.Lock()
	if m.generation.Load() != gen {
		m.mu.Unlock()
		return
	}
	for _, res := range results {
		m.registry.SetProbeResult(res.ID, res.Result)
	}
	changed, prev := m.reselectLocked()
	active := m.activeID
	m.mu.Unlock()

	if changed {
		m.notifyFailover(prev, active)
	}
}

// discover runs one discovery pass and applies the result. Failure keeps the
// previous endpoint set.
func (m *Manager) discover(gen uint64) {
	eps, err := m.cfg.Discoverer.Discover(m.ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Endpoint discovery failed, keeping previous endpoint set")
		return
	}

	m.mu.Lock()
	if m.generation.Load() != gen {
		m.mu.Unlock()
		return
	}
	m.registry.ReplaceAll(eps)
	changed, prev := m.reselectLocked()
	active := m.activeID
	m.mu.Unlock()

	if changed {
		m.notifyFailover(prev, active)
	}

	// New identities deserve fresh measurements ahead of the next ticker.
	m.startSweep(m.registry.Snapshot())
}

// reselectLocked recomputes the active endpoint. Caller holds m.mu. Returns
// whether the active id changed and the previous value.
func (m *Manager) reselectLocked() (bool, string) {
	prev := m.activeID
	next := selector.Select(m.registry.Snapshot(), m.pref, prev, m.cfg.DefaultEndpointID)
	if next == prev {
		return false, prev
	}
	m.activeID = next
	if err := m.cfg.Store.Put(store.KeyActiveEndpoint, []byte(next)); err != nil {
		m.logger.WithError(err).Debug("Failed to persist active endpoint")
	}
	return true, prev
}

func (m *Manager) notifyFailover(prev, next string) {
	m.logger.WithFields(logging.Fields{"previous": prev, "active": next}).Info("Active endpoint changed")
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Failovers.Inc()
	}
	m.cfg.Notifier.Notify(prev, next)
}

// ActiveEndpoint returns the active endpoint record. ok is false when no
// endpoint has been selected yet or the active id is no longer known.
func (m *Manager) ActiveEndpoint() (registry.Endpoint, bool) {
	m.mu.RLock()
	id := m.activeID
	m.mu.RUnlock()
	if id == "" {
		return registry.Endpoint{}, false
	}
	return m.registry.Get(id)
}

// ActiveID returns the active endpoint id, which may be empty before first
// selection.
func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// Preference returns the current selection preference.
func (m *Manager) Preference() prefs.Preference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pref
}

// Endpoints returns the registry snapshot.
func (m *Manager) Endpoints() []registry.Endpoint {
	return m.registry.Snapshot()
}

// Registry exposes the endpoint registry for read-side consumers.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// PinEndpoint selects an endpoint manually. Pinning disables auto-fastest in
// the same step; there is no intermediate state where auto mode could
// override the pin.
func (m *Manager) PinEndpoint(id string) error {
	m.mu.Lock()
	if !m.registry.Has(id) {
		m.mu.Unlock()
		return fmt.Errorf("unknown endpoint %q", id)
	}
	m.pref = prefs.Preference{
		AutoFastest:      false,
		PinnedEndpointID: id,
		UpdatedAt:        time.Now().UnixMilli(),
	}
	m.persistPreferenceLocked()
	changed, prev := m.reselectLocked()
	active := m.activeID
	pref := m.pref
	m.mu.Unlock()

	if changed {
		m.notifyFailover(prev, active)
	}
	m.pushRemote(pref)
	return nil
}

// SetAutoFastest switches selection mode. Enabling adopts the fastest online
// endpoint in the same step; disabling pins whatever is currently active so
// the selection stays put.
func (m *Manager) SetAutoFastest(enabled bool) {
	m.mu.Lock()
	pinned := ""
	if !enabled {
		pinned = m.activeID
	}
	m.pref = prefs.Preference{
		AutoFastest:      enabled,
		PinnedEndpointID: pinned,
		UpdatedAt:        time.Now().UnixMilli(),
	}
	m.persistPreferenceLocked()
	changed, prev := m.reselectLocked()
	active := m.activeID
	pref := m.pref
	m.mu.Unlock()

	if changed {
		m.notifyFailover(prev, active)
	}
	m.pushRemote(pref)
}

// ApplyRemotePreference reconciles a remote profile snapshot into the local
// preference. A losing snapshot changes nothing.
func (m *Manager) ApplyRemotePreference(remote api.RemotePreference) {
	m.mu.Lock()
	merged := prefs.Reconcile(m.pref, remote)
	if merged == m.pref {
		m.mu.Unlock()
		return
	}
	m.pref = merged
	m.persistPreferenceLocked()
	changed, prev := m.reselectLocked()
	active := m.activeID
	m.mu.Unlock()

	m.logger.WithFields(logging.Fields{
		"auto_fastest": merged.AutoFastest,
		"pinned":       merged.PinnedEndpointID,
	}).Info("Remote preference adopted")
	if changed {
		m.notifyFailover(prev, active)
	}
}

// Refresh triggers an immediate discovery pass and waits for it. Concurrent
// refreshes share one network run.
func (m *Manager) Refresh(ctx context.Context) error {
	gen := m.generation.Load()
	eps, err := m.cfg.Discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.generation.Load() != gen {
		m.mu.Unlock()
		return nil
	}
	m.registry.ReplaceAll(eps)
	changed, prev := m.reselectLocked()
	active := m.activeID
	m.mu.Unlock()

	if changed {
		m.notifyFailover(prev, active)
	}
	m.startSweep(m.registry.Snapshot())
	return nil
}

func (m *Manager) pushRemote(pref prefs.Preference) {
	if m.cfg.Remote != nil {
		m.cfg.Remote.Push(pref)
	}
}

func (m *Manager) persistPreferenceLocked() {
	data, err := json.Marshal(m.pref)
	if err != nil {
		return
	}
	if err := m.cfg.Store.Put(store.KeyPreference, data); err != nil {
		m.logger.WithError(err).Debug("Failed to persist preference")
	}
}

func (m *Manager) loadPreference() prefs.Preference {
	data, found, err := m.cfg.Store.Get(store.KeyPreference)
	if err != nil || !found {
		return prefs.Default(m.cfg.DefaultEndpointID)
	}
	var pref prefs.Preference
	if err := json.Unmarshal(data, &pref); err != nil {
		m.logger.WithError(err).Warn("Discarding corrupt preference record")
		return prefs.Default(m.cfg.DefaultEndpointID)
	}
	return pref
}

func (m *Manager) loadActiveID() string {
	data, found, err := m.cfg.Store.Get(store.KeyActiveEndpoint)
	if err != nil || !found {
		return ""
	}
	return string(data)
}
