// Package notifier delivers active-endpoint change events to a single
// subscriber. Registering a new callback replaces the previous one; the
// replace semantics are deliberate and documented here rather than implied,
// since silently dropping a subscriber is an easy source of bugs.
package notifier

import "sync"

// Callback receives the previous and new active endpoint ids.
type Callback func(previousID, newID string)

// FailoverNotifier fires its callback exactly once per distinct change of
// the active endpoint id, never for a reselection that resolves to the same
// id. The notifier has no visibility into the callback's async lifecycle;
// suppressing re-entrant work (e.g. a re-auth already in flight) is the
// subscriber's job via its own in-progress guard.
type FailoverNotifier struct {
	mu sync.Mutex
	cb Callback
}

// New creates a notifier with no subscriber.
func New() *FailoverNotifier {
	return &FailoverNotifier{}
}

// OnActiveEndpointChange registers the subscriber, replacing any previous
// one. A nil callback unsubscribes.
func (n *FailoverNotifier) OnActiveEndpointChange(cb Callback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cb = cb
}

// Notify fires the subscriber when previousID != newID. No-op reselections
// are swallowed.
func (n *FailoverNotifier) Notify(previousID, newID string) {
	if previousID == newID {
		return
	}
	n.mu.Lock()
	cb := n.cb
	n.mu.Unlock()
	if cb != nil {
		cb(previousID, newID)
	}
}
