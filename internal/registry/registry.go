// Package registry holds the in-memory table of known backend endpoints and
// their observed health. The registry is the single source of endpoint
// identity; discovery replaces it wholesale and the prober mutates health
// fields in place. Order is significant: it is the tie-break order for
// automatic selection.
package registry

import (
	"sync"
	"time"
)

// Endpoint status values. An endpoint starts as checking and stays there
// until its first probe completes.
const (
	StatusChecking = "checking"
	StatusOnline   = "online"
	StatusOffline  = "offline"
)

// Endpoint is one backend instance the client can connect to.
type Endpoint struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Region      string `json:"region"`
	BaseURL     string `json:"baseUrl"`
	StreamURL   string `json:"streamUrl"`

	Status        string     `json:"status"`
	LatencyMs     *int64     `json:"latencyMs,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`

	IsLocalDev   bool `json:"isLocalDev"`
	IsDiscovered bool `json:"isDiscovered"`
}

// ProbeResult is the outcome of a single health probe.
type ProbeResult struct {
	Online    bool
	LatencyMs int64
	CheckedAt time.Time
}

// Registry is an ordered, mutex-guarded endpoint table.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Endpoint
}

// New creates a registry pre-populated with the given endpoints. Health
// fields on the seeds are kept as provided (callers reset them to checking
// when identity comes from a cache).
func New(seed []Endpoint) *Registry {
	r := &Registry{byID: make(map[string]*Endpoint, len(seed))}
	for _, ep := range seed {
		if _, dup := r.byID[ep.ID]; dup {
			continue
		}
		cp := ep
		if cp.Status == "" {
			cp.Status = StatusChecking
		}
		r.order = append(r.order, cp.ID)
		r.byID[cp.ID] = &cp
	}
	return r
}

// ReplaceAll swaps the endpoint set for a freshly discovered one. Discovery
// results are authoritative: no field-level merging with the old set. The
// one exception is a configured local-dev endpoint, which is retained even
// when discovery omits it, reset to checking like everything else new.
func (r *Registry) ReplaceAll(eps []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var localDev *Endpoint
	for _, id := range r.order {
		if ep := r.byID[id]; ep.IsLocalDev {
			cp := *ep
			cp.Status = StatusChecking
			cp.LatencyMs = nil
			cp.LastCheckedAt = nil
			localDev = &cp
			break
		}
	}

	r.order = r.order[:0]
	r.byID = make(map[string]*Endpoint, len(eps)+1)

	sawLocalDev := false
	for _, ep := range eps {
		if _, dup := r.byID[ep.ID]; dup {
			continue
		}
		cp := ep
		cp.Status = StatusChecking
		cp.LatencyMs = nil
		cp.LastCheckedAt = nil
		if cp.IsLocalDev {
			sawLocalDev = true
		}
		r.order = append(r.order, cp.ID)
		r.byID[cp.ID] = &cp
	}

	if localDev != nil && !sawLocalDev {
		r.order = append(r.order, localDev.ID)
		r.byID[localDev.ID] = localDev
	}
}

// SetProbeResult records a probe outcome on an endpoint. Unknown ids are
// ignored; a sweep may resolve after the set it probed was replaced.
func (r *Registry) SetProbeResult(id string, res ProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.byID[id]
	if !ok {
		return
	}
	checkedAt := res.CheckedAt
	ep.LastCheckedAt = &checkedAt
	if res.Online {
		ep.Status = StatusOnline
		latency := res.LatencyMs
		ep.LatencyMs = &latency
	} else {
		ep.Status = StatusOffline
		ep.LatencyMs = nil
	}
}

// Get returns a copy of the endpoint with the given id.
func (r *Registry) Get(id string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.byID[id]
	if !ok {
		return Endpoint{}, false
	}
	return *ep, true
}

// Has reports whether an endpoint with the given id exists.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Snapshot returns a copy of all endpoints in registry order.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// LocalDev returns the configured local-dev endpoint, if present.
func (r *Registry) LocalDev() (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if ep := r.byID[id]; ep.IsLocalDev {
			return *ep, true
		}
	}
	return Endpoint{}, false
}

// Len returns the number of known endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
