// Package prefs holds the user's endpoint-selection preference and the
// last-write-wins reconciliation between the local cache and the remote
// profile record.
package prefs

import (
	"github.com/InfamousVague/Wraith-sub005/internal/api"
)

// Preference is the user's selection-mode record. PinnedEndpointID is only
// meaningful while AutoFastest is false. UpdatedAt is a unix-millisecond
// timestamp of the last mutation of this record at its source.
type Preference struct {
	AutoFastest      bool   `json:"autoFastest"`
	PinnedEndpointID string `json:"pinnedEndpointId"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// Default returns the first-run preference: manual mode pinned to the
// environment's default endpoint.
func Default(defaultEndpointID string) Preference {
	return Preference{
		AutoFastest:      false,
		PinnedEndpointID: defaultEndpointID,
	}
}

// Reconcile merges the local preference with a remote profile snapshot using
// whole-record last-write-wins. The record with the strictly greater
// UpdatedAt wins in full; on a tie (or older remote) local is authoritative.
// Field-level merging is not performed; it would allow partial states like
// autoFastest=true carrying a stale pin. When the winning record has
// AutoFastest set, its pin is dropped for the same reason.
//
// Pure and idempotent: Reconcile(Reconcile(l, r), r) == Reconcile(l, r).
func Reconcile(local Preference, remote api.RemotePreference) Preference {
	if remote.UpdatedAt <= local.UpdatedAt {
		return local
	}

	merged := Preference{
		PinnedEndpointID: remote.PreferredServer,
		UpdatedAt:        remote.UpdatedAt,
	}
	if remote.AutoFastest != nil {
		merged.AutoFastest = *remote.AutoFastest
	}
	if merged.AutoFastest {
		// Auto mode always takes precedence over a stale pin.
		merged.PinnedEndpointID = ""
	}
	return merged
}
