// Package store provides the key/value persistence port for the connection
// manager. Cached endpoint identity, the last active endpoint id, the local
// preference record and per-endpoint session tokens all live behind this
// interface so the core stays testable without a real storage backend.
package store

// Store is the injected persistence port. Get reports (value, found, error);
// a missing key is not an error.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Well-known keys.
const (
	KeyEndpointCache  = "helm.endpoint_cache"
	KeyActiveEndpoint = "helm.active_endpoint"
	KeyPreference     = "helm.preference"

	// TokenKeyPrefix + endpoint id holds the cached session token for that
	// endpoint.
	TokenKeyPrefix = "helm.token."
)

// TokenKey returns the store key for an endpoint's cached session token.
func TokenKey(endpointID string) string {
	return TokenKeyPrefix + endpointID
}
