// Package selector decides which endpoint the client should actively use.
// Selection is a pure function of the registry snapshot and the user's
// preference; the side effects of the choice changing (client rebinding,
// re-auth) live with the manager and its subscribers.
package selector

import (
	"github.com/InfamousVague/Wraith-sub005/internal/prefs"
	"github.com/InfamousVague/Wraith-sub005/internal/registry"
)

// Select returns the id of the endpoint the client should use.
//
// Auto-fastest mode picks the online endpoint with the lowest latency, ties
// broken by registry order. When nothing is online the previous active id is
// held unchanged: an endpoint known to be offline is never adopted, and
// selection does not flip mid-outage.
//
// Pinned mode returns the pinned id when it still exists, falling back to
// the environment default otherwise.
func Select(endpoints []registry.Endpoint, pref prefs.Preference, previousActive, defaultID string) string {
	if pref.AutoFastest {
		if fastest, ok := Fastest(endpoints); ok {
			return fastest
		}
		return previousActive
	}

	for _, ep := range endpoints {
		if ep.ID == pref.PinnedEndpointID {
			return ep.ID
		}
	}
	return defaultID
}

// Fastest returns the id of the online endpoint with the minimum measured
// latency, ties resolved to the earliest in registry order. ok is false when
// no endpoint is online.
func Fastest(endpoints []registry.Endpoint) (string, bool) {
	best := ""
	var bestLatency int64
	for _, ep := range endpoints {
		if ep.Status != registry.StatusOnline {
			continue
		}
		// An online endpoint without a measurement sorts after any measured
		// one; it can still win when it is the only candidate.
		if ep.LatencyMs == nil {
			if best == "" {
				best = ep.ID
				bestLatency = int64(^uint64(0) >> 1)
			}
			continue
		}
		if best == "" || *ep.LatencyMs < bestLatency {
			best = ep.ID
			bestLatency = *ep.LatencyMs
		}
	}
	return best, best != ""
}
