package manager

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
	"github.com/InfamousVague/Wraith-sub005/internal/discovery"
	"github.com/InfamousVague/Wraith-sub005/internal/notifier"
	"github.com/InfamousVague/Wraith-sub005/internal/prefs"
	"github.com/InfamousVague/Wraith-sub005/internal/prober"
	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	"github.com/InfamousVague/Wraith-sub005/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type failoverRecorder struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *failoverRecorder) record(prev, next string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{prev, next})
}

func (f *failoverRecorder) snapshot() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.calls...)
}

func testManager(t *testing.T) (*Manager, *failoverRecorder, *store.FileStore) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	n := notifier.New()
	rec := &failoverRecorder{}
	n.OnActiveEndpointChange(rec.record)

	m := New(Config{
		Discoverer: discovery.New(discovery.Config{Store: s, Logger: testLogger()}),
		Prober:     prober.New(prober.Config{Logger: testLogger()}),
		Store:      s,
		Notifier:   n,
		Logger:     testLogger(),
		Fallbacks: []registry.Endpoint{
			{ID: "a", BaseURL: "https://a.example.com"},
			{ID: "b", BaseURL: "https://b.example.com"},
			{ID: "c", BaseURL: "https://c.example.com"},
		},
		DefaultEndpointID: "a",
	})
	return m, rec, s
}

func sweepOf(results ...prober.SweepResult) []prober.SweepResult {
	return results
}

func online(id string, latency int64) prober.SweepResult {
	return prober.SweepResult{ID: id, Result: registry.ProbeResult{Online: true, LatencyMs: latency, CheckedAt: time.Now()}}
}

func offline(id string) prober.SweepResult {
	return prober.SweepResult{ID: id, Result: registry.ProbeResult{Online: false, CheckedAt: time.Now()}}
}

func TestAutoFastest_PicksLowestLatency(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("a", 20), online("b", 80), offline("c")), m.generation.Load())

	if got := m.ActiveID(); got != "a" {
		t.Fatalf("active = %q, want a", got)
	}
}

func TestAutoFastest_FailoverFiresOnce(t *testing.T) {
	m, rec, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("a", 20), online("b", 80), offline("c")), m.generation.Load())
	rec.mu.Lock()
	rec.calls = nil
	rec.mu.Unlock()

	m.applySweep(sweepOf(offline("a"), online("b", 80), offline("c")), m.generation.Load())

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != [2]string{"a", "b"} {
		t.Fatalf("failover calls = %v, want [[a b]]", calls)
	}
	if got := m.ActiveID(); got != "b" {
		t.Errorf("active = %q, want b", got)
	}
}

func TestAutoFastest_NoOpReselectFiresNothing(t *testing.T) {
	m, rec, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("a", 20), online("b", 80)), m.generation.Load())
	before := len(rec.snapshot())

	// Identical outcome: latencies shift but the winner does not.
	m.applySweep(sweepOf(online("a", 25), online("b", 70)), m.generation.Load())

	if after := len(rec.snapshot()); after != before {
		t.Fatalf("no-op reselect fired %d notifications", after-before)
	}
}

func TestAutoFastest_TotalOutageHoldsPrevious(t *testing.T) {
	m, rec, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("b", 30)), m.generation.Load())
	if got := m.ActiveID(); got != "b" {
		t.Fatalf("active = %q, want b", got)
	}
	before := len(rec.snapshot())

	m.applySweep(sweepOf(offline("a"), offline("b"), offline("c")), m.generation.Load())

	if got := m.ActiveID(); got != "b" {
		t.Errorf("active = %q during outage, want held b", got)
	}
	if after := len(rec.snapshot()); after != before {
		t.Errorf("outage hold fired %d notifications", after-before)
	}
}

func TestEnableAuto_AdoptsFastestImmediately(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	// Pinned to the default while a faster endpoint is online.
	m.applySweep(sweepOf(online("a", 90), online("b", 10)), m.generation.Load())
	if got := m.ActiveID(); got != "a" {
		t.Fatalf("pinned active = %q, want a", got)
	}

	m.SetAutoFastest(true)
	if got := m.ActiveID(); got != "b" {
		t.Fatalf("active after enabling auto = %q, want b", got)
	}
}

func TestPinEndpoint_DisablesAutoAtomically(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("a", 10), online("c", 90)), m.generation.Load())

	if err := m.PinEndpoint("c"); err != nil {
		t.Fatalf("PinEndpoint: %v", err)
	}
	pref := m.Preference()
	if pref.AutoFastest || pref.PinnedEndpointID != "c" {
		t.Fatalf("preference = %+v", pref)
	}
	if got := m.ActiveID(); got != "c" {
		t.Errorf("active = %q, want c", got)
	}

	// A later sweep must not let auto mode override the pin.
	m.applySweep(sweepOf(online("a", 10), online("c", 90)), m.generation.Load())
	if got := m.ActiveID(); got != "c" {
		t.Errorf("active after sweep = %q, want c", got)
	}
}

func TestPinEndpoint_UnknownID(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	if err := m.PinEndpoint("nope"); err == nil {
		t.Fatal("expected error for unknown endpoint")
	}
}

func TestDisableAuto_PinsCurrentActive(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	m.SetAutoFastest(true)
	m.applySweep(sweepOf(online("b", 10)), m.generation.Load())

	m.SetAutoFastest(false)
	pref := m.Preference()
	if pref.AutoFastest || pref.PinnedEndpointID != "b" {
		t.Fatalf("preference = %+v", pref)
	}
}

func TestApplyRemotePreference_NewerWins(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	m.applySweep(sweepOf(online("a", 10), online("b", 50)), m.generation.Load())

	auto := true
	m.ApplyRemotePreference(api.RemotePreference{
		AutoFastest: &auto,
		UpdatedAt:   time.Now().UnixMilli() + 1000,
	})

	if pref := m.Preference(); !pref.AutoFastest {
		t.Fatalf("remote auto not adopted: %+v", pref)
	}
	if got := m.ActiveID(); got != "a" {
		t.Errorf("active = %q, want a", got)
	}
}

func TestApplyRemotePreference_StaleIgnored(t *testing.T) {
	m, _, _ := testManager(t)
	defer m.Close()

	if err := m.PinEndpoint("b"); err != nil {
		t.Fatalf("PinEndpoint: %v", err)
	}
	local := m.Preference()

	auto := true
	m.ApplyRemotePreference(api.RemotePreference{AutoFastest: &auto, UpdatedAt: local.UpdatedAt - 5000})

	if pref := m.Preference(); pref != local {
		t.Fatalf("stale remote changed preference: %+v", pref)
	}
}

func TestApplySweep_StaleGenerationDiscarded(t *testing.T) {
	m, _, _ := testManager(t)

	m.SetAutoFastest(true)
	gen := m.generation.Load()
	m.Close()

	m.applySweep(sweepOf(online("b", 5)), gen)
	if got := m.ActiveID(); got == "b" {
		t.Fatal("sweep resolved after close was applied")
	}
}

func TestNew_RestoresPersistedState(t *testing.T) {
	m, _, s := testManager(t)
	if err := m.PinEndpoint("b"); err != nil {
		t.Fatalf("PinEndpoint: %v", err)
	}
	want := m.Preference()
	m.Close()

	n := notifier.New()
	m2 := New(Config{
		Discoverer: discovery.New(discovery.Config{Store: s, Logger: testLogger()}),
		Prober:     prober.New(prober.Config{Logger: testLogger()}),
		Store:      s,
		Notifier:   n,
		Logger:     testLogger(),
		Fallbacks: []registry.Endpoint{
			{ID: "a", BaseURL: "https://a.example.com"},
			{ID: "b", BaseURL: "https://b.example.com"},
		},
		DefaultEndpointID: "a",
	})
	defer m2.Close()

	if got := m2.Preference(); got != want {
		t.Errorf("restored preference = %+v, want %+v", got, want)
	}
	if got := m2.ActiveID(); got != "b" {
		t.Errorf("restored active = %q, want b", got)
	}

	var onDisk prefs.Preference
	data, found, _ := s.Get(store.KeyPreference)
	if !found {
		t.Fatal("preference record not persisted")
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if onDisk != want {
		t.Errorf("persisted preference = %+v, want %+v", onDisk, want)
	}
}
