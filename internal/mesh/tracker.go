// Package mesh tracks the server-to-server peer links reported by the active
// endpoint. The view is read-only diagnostics for the dashboard: it never
// influences endpoint selection. Data arrives two ways, a polling loop and an
// optional websocket push feed, and each fresh payload wholesale-replaces the
// previous snapshot.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	"github.com/InfamousVague/Wraith-sub005/pkg/clients"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
	"github.com/InfamousVague/Wraith-sub005/pkg/monitoring"
)

// DefaultPollInterval is how often the active endpoint's peer list is polled
// when no push feed is delivering updates.
const DefaultPollInterval = 15 * time.Second

// PeerView is one peer link resolved against the endpoint registry.
type PeerView struct {
	Peer api.Peer `json:"peer"`
	// EndpointID is the matching registry endpoint, empty when the peer is
	// not a known endpoint. Unmatched peers are still listed.
	EndpointID string `json:"endpointId,omitempty"`
	Matched    bool   `json:"matched"`
}

// Snapshot is the last known peer-mesh state.
type Snapshot struct {
	ReportedBy     string     `json:"reportedBy"`
	Peers          []PeerView `json:"peers"`
	ConnectedCount int        `json:"connectedCount"`
	TotalPeers     int        `json:"totalPeers"`
	// Sync is the reporting endpoint's own sync-health reading, when the
	// endpoint exposes one.
	Sync      *api.SyncHealthResponse `json:"sync,omitempty"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// ActiveFunc resolves the endpoint the tracker should follow. A false return
// means no active endpoint exists yet and the cycle is skipped.
type ActiveFunc func() (registry.Endpoint, bool)

// Tracker polls and subscribes to the active endpoint's peer view.
type Tracker struct {
	active   ActiveFunc
	registry *registry.Registry
	client   *http.Client
	interval time.Duration
	logger   logging.Entry
	metrics  *monitoring.ConnectionMetrics

	mu   sync.RWMutex
	last Snapshot

	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
	once     sync.Once
}

// Config holds Tracker dependencies.
type Config struct {
	Active   ActiveFunc
	Registry *registry.Registry
	Interval time.Duration
	Timeout  time.Duration
	Logger   logging.Logger
	// Metrics may be nil.
	Metrics *monitoring.ConnectionMetrics
}

// New creates a Tracker. Call Start to begin polling.
func New(cfg Config) *Tracker {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Tracker{
		active:   cfg.Active,
		registry: cfg.Registry,
		client:   clients.NewHTTPClient(cfg.Timeout),
		interval: cfg.Interval,
		logger:   logging.WithComponent(cfg.Logger, "mesh"),
		metrics:  cfg.Metrics,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the polling loop and the push-feed subscriber.
func (t *Tracker) Start() {
	t.started = true
	go t.pollLoop()
	go t.feedLoop()
}

// Close stops background work. Safe to call more than once.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.stopChan)
	})
	if t.started {
		<-t.doneChan
	}
}

// Snapshot returns a copy of the last known peer-mesh state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.last
	snap.Peers = append([]PeerView(nil), t.last.Peers...)
	return snap
}

func (t *Tracker) pollLoop() {
	defer close(t.doneChan)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.pollOnce()
	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

func (t *Tracker) pollOnce() {
	ep, ok := t.active()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()

	peers, err := t.fetchPeers(ctx, ep.BaseURL)
	if err != nil {
		t.logger.WithError(err).WithField("endpoint_id", ep.ID).Debug("Peer poll failed")
		return
	}

	// Sync health is an optional route; a 404 just means this endpoint does
	// not expose it.
	sync, err := t.fetchSyncHealth(ctx, ep.BaseURL)
	if err != nil {
		t.logger.WithError(err).WithField("endpoint_id", ep.ID).Debug("Sync health unavailable")
		sync = nil
	}

	t.apply(peers, sync)
}

func (t *Tracker) fetchPeers(ctx context.Context, baseURL string) (*api.PeersResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/peers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peers request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peers request error (%d)", resp.StatusCode)
	}

	var peers api.PeersResponse
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return nil, fmt.Errorf("failed to decode peers response: %w", err)
	}
	return &peers, nil
}

func (t *Tracker) fetchSyncHealth(ctx context.Context, baseURL string) (*api.SyncHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/sync/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync health error (%d)", resp.StatusCode)
	}

	var health api.SyncHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

// apply resolves peers against the registry and replaces the snapshot.
func (t *Tracker) apply(peers *api.PeersResponse, sync *api.SyncHealthResponse) {
	eps := t.registry.Snapshot()

	views := make([]PeerView, 0, len(peers.Peers))
	for _, p := range peers.Peers {
		views = append(views, t.resolve(p, eps))
	}

	connected := peers.ConnectedCount
	if connected == 0 {
		for _, p := range peers.Peers {
			if p.Status == "connected" {
				connected++
			}
		}
	}
	total := peers.TotalPeers
	if total == 0 {
		total = len(peers.Peers)
	}

	t.mu.Lock()
	t.last = Snapshot{
		ReportedBy:     peers.ServerID,
		Peers:          views,
		ConnectedCount: connected,
		TotalPeers:     total,
		Sync:           sync,
		UpdatedAt:      time.Now(),
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PeersConnected.Set(float64(connected))
	}
}

// resolve matches a reported peer to a registry endpoint, first by id, then
// by case-insensitive display name. Peers with no match are passed through
// unmatched rather than dropped: the mesh may know servers the client does
// not.
func (t *Tracker) resolve(p api.Peer, eps []registry.Endpoint) PeerView {
	for _, ep := range eps {
		if ep.ID == p.ID {
			return PeerView{Peer: p, EndpointID: ep.ID, Matched: true}
		}
	}
	for _, ep := range eps {
		if strings.EqualFold(ep.DisplayName, p.ID) {
			return PeerView{Peer: p, EndpointID: ep.ID, Matched: true}
		}
	}
	return PeerView{Peer: p}
}

// feedLoop maintains a websocket subscription to the active endpoint's peer
// feed, reconnecting with backoff. Push payloads carry the same shape as the
// poll response and replace the snapshot the same way; polling keeps running
// underneath as the fallback.
func (t *Tracker) feedLoop() {
	backoff := time.Second
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		ep, ok := t.active()
		if !ok || ep.StreamURL == "" {
			if !t.sleep(backoff) {
				return
			}
			continue
		}

		if err := t.consumeFeed(ep); err != nil {
			t.logger.WithError(err).WithField("endpoint_id", ep.ID).Debug("Peer feed disconnected")
		}

		if !t.sleep(backoff) {
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (t *Tracker) sleep(d time.Duration) bool {
	select {
	case <-t.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

func (t *Tracker) consumeFeed(ep registry.Endpoint) error {
	wsURL, err := peerFeedURL(ep.StreamURL)
	if err != nil {
		return err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("peer feed dial failed (status: %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("peer feed dial failed: %w", err)
	}
	defer conn.Close()

	t.logger.WithField("endpoint_id", ep.ID).Info("Peer feed connected")

	// Ping keepalive so a silent connection is detected within the read
	// deadline.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(54 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-t.stopChan:
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		var peers api.PeersResponse
		if err := conn.ReadJSON(&peers); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("peer feed read error: %w", err)
			}
			return nil
		}
		// The endpoint that answers the feed may differ from the one the
		// subscription started on after a failover; a stale message still
		// describes a real mesh state, so it is applied as-is.
		t.apply(&peers, nil)
	}
}

// peerFeedURL converts an endpoint's stream URL into the peers feed address.
func peerFeedURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/peers"
	return u.String(), nil
}
