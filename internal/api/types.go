// Package api holds the wire types exchanged with backend endpoints and the
// user-profile service. Field names follow the backend's JSON contract.
package api

// MeshServer is one backend instance as reported by the mesh discovery route.
type MeshServer struct {
	ID        string `json:"id"`
	Region    string `json:"region"`
	APIURL    string `json:"apiUrl"`
	WSURL     string `json:"wsUrl"`
	Status    string `json:"status"`
	LatencyMs *int64 `json:"latencyMs,omitempty"`
}

// MeshServersResponse is the payload of GET /api/mesh/servers on the entry
// endpoint.
type MeshServersResponse struct {
	SelfID      string       `json:"selfId"`
	SelfRegion  string       `json:"selfRegion"`
	SelfAPIURL  string       `json:"selfApiUrl"`
	SelfWSURL   string       `json:"selfWsUrl"`
	Servers     []MeshServer `json:"servers"`
	MeshKeyHash string       `json:"meshKeyHash"`
	Timestamp   int64        `json:"timestamp"`
}

// PeerSyncStatus carries ahead/behind counters for a peer, when the endpoint
// reports them alongside connectivity.
type PeerSyncStatus struct {
	Ahead  int64 `json:"ahead"`
	Behind int64 `json:"behind"`
}

// Peer is one server-to-server link as seen from the reporting endpoint.
type Peer struct {
	ID         string          `json:"id"`
	Region     string          `json:"region"`
	Status     string          `json:"status"`
	LatencyMs  *int64          `json:"latencyMs,omitempty"`
	SyncStatus *PeerSyncStatus `json:"syncStatus,omitempty"`
}

// PeersResponse is the payload of GET /api/peers on the active endpoint, and
// of the matching push-feed messages.
type PeersResponse struct {
	ServerID       string `json:"serverId"`
	ServerRegion   string `json:"serverRegion"`
	Peers          []Peer `json:"peers"`
	ConnectedCount int    `json:"connectedCount"`
	TotalPeers     int    `json:"totalPeers"`
	Timestamp      int64  `json:"timestamp"`
}

// SyncHealthResponse is the payload of GET /api/sync/health.
type SyncHealthResponse struct {
	IsPrimary          bool  `json:"isPrimary"`
	SyncCursorPosition int64 `json:"syncCursorPosition"`
	PendingSyncCount   int64 `json:"pendingSyncCount"`
}

// RemotePreference is the server-profile copy of the selection preference.
// All fields are optional on the wire; a missing updatedAt means the profile
// has never stored a preference.
type RemotePreference struct {
	AutoFastest     *bool  `json:"autoFastest,omitempty"`
	PreferredServer string `json:"preferredServer,omitempty"`
	UpdatedAt       int64  `json:"updatedAt,omitempty"`
}
