// Package discovery learns the current endpoint set from the mesh discovery
// route, with a static fallback list and a short-lived identity cache for
// fast startup.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"golang.org/x/sync/singleflight"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	"github.com/InfamousVague/Wraith-sub005/internal/store"
	"github.com/InfamousVague/Wraith-sub005/pkg/clients"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
	"github.com/InfamousVague/Wraith-sub005/pkg/monitoring"
)

// CacheTTL bounds how long cached endpoint identity is trusted on startup.
const CacheTTL = 5 * time.Minute

// cachedSet is the persisted form of a discovery result. Only identity is
// stored; health is re-measured from scratch every run.
type cachedSet struct {
	Endpoints []registry.Endpoint `json:"endpoints"`
	SavedAt   int64               `json:"savedAt"` // unix milliseconds
}

// Discoverer queries the mesh discovery route on the entry endpoint, walking
// the static fallback list when the entry is unreachable.
type Discoverer struct {
	entryURL  string
	fallbacks []registry.Endpoint
	client    *http.Client
	executor  failsafe.Executor[*http.Response]
	store     store.Store
	logger    logging.Entry
	metrics   *monitoring.ConnectionMetrics
	now       func() time.Time
	sf        singleflight.Group
}

// Config holds dependencies for the Discoverer.
type Config struct {
	// EntryURL is the base URL whose /api/mesh/servers route is asked first.
	EntryURL string
	// Fallbacks is the static endpoint list tried when the entry fails, and
	// the identity seed when everything is unreachable and no cache exists.
	Fallbacks []registry.Endpoint
	Store     store.Store
	Logger    logging.Logger
	Timeout   time.Duration
	// Metrics may be nil.
	Metrics *monitoring.ConnectionMetrics
}

// New creates a Discoverer.
func New(cfg Config) *Discoverer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Discoverer{
		entryURL:  cfg.EntryURL,
		fallbacks: cfg.Fallbacks,
		client:    clients.NewHTTPClient(cfg.Timeout),
		// The entry call retries with backoff; a discovery storm against a
		// dead entry server helps nobody.
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		store:    cfg.Store,
		logger:   logging.WithComponent(cfg.Logger, "discovery"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Discover fetches the current endpoint set. The entry endpoint is asked
// first (with retry); on failure each static fallback is tried once. An
// all-fail run returns an error and the caller retains its previous set;
// discovery failure is never fatal. Successful results are persisted to the
// identity cache.
//
// Concurrent calls (scheduled re-discovery racing a manual refresh intent)
// are collapsed into one network run.
func (d *Discoverer) Discover(ctx context.Context) ([]registry.Endpoint, error) {
	v, err, _ := d.sf.Do("discover", func() (interface{}, error) {
		return d.discover(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]registry.Endpoint), nil
}

func (d *Discoverer) discover(ctx context.Context) ([]registry.Endpoint, error) {
	eps, err := d.fetchMesh(ctx, d.entryURL, true)
	if err == nil {
		d.countRun("ok")
		d.persist(eps)
		return eps, nil
	}
	d.logger.WithError(err).WithField("entry", d.entryURL).Warn("Entry discovery failed, trying fallbacks")

	for _, fb := range d.fallbacks {
		if fb.IsLocalDev {
			continue
		}
		eps, fbErr := d.fetchMesh(ctx, fb.BaseURL, false)
		if fbErr != nil {
			d.logger.WithError(fbErr).WithField("fallback", fb.ID).Debug("Fallback discovery failed")
			continue
		}
		d.countRun("fallback")
		d.persist(eps)
		return eps, nil
	}

	d.countRun("failed")
	return nil, fmt.Errorf("discovery failed on entry and all fallbacks: %w", err)
}

func (d *Discoverer) countRun(result string) {
	if d.metrics != nil {
		d.metrics.DiscoveryRuns.WithLabelValues(result).Inc()
	}
}

// fetchMesh calls one server's discovery route and converts the response.
func (d *Discoverer) fetchMesh(ctx context.Context, baseURL string, withRetry bool) ([]registry.Endpoint, error) {
	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/mesh/servers", nil)
		if err != nil {
			return nil, err
		}
		return d.client.Do(req)
	}

	var resp *http.Response
	var err error
	if withRetry {
		resp, err = clients.ExecuteHTTP(ctx, d.executor, do)
	} else {
		resp, err = do()
	}
	if err != nil {
		return nil, fmt.Errorf("mesh discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mesh discovery error (%d): %s", resp.StatusCode, string(body))
	}

	var mesh api.MeshServersResponse
	if err := json.NewDecoder(resp.Body).Decode(&mesh); err != nil {
		return nil, fmt.Errorf("failed to decode mesh response: %w", err)
	}
	if len(mesh.Servers) == 0 {
		return nil, fmt.Errorf("mesh discovery returned no servers")
	}

	eps := make([]registry.Endpoint, 0, len(mesh.Servers))
	for _, s := range mesh.Servers {
		if s.ID == "" || s.APIURL == "" {
			continue
		}
		eps = append(eps, registry.Endpoint{
			ID:           s.ID,
			DisplayName:  s.ID,
			Region:       s.Region,
			BaseURL:      s.APIURL,
			StreamURL:    s.WSURL,
			Status:       registry.StatusChecking,
			IsDiscovered: true,
		})
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("mesh discovery returned no usable servers")
	}
	return eps, nil
}

// persist writes the discovered identity set to the cache. Cache write
// failures only cost the next startup a network round-trip.
func (d *Discoverer) persist(eps []registry.Endpoint) {
	set := cachedSet{Endpoints: eps, SavedAt: d.now().UnixMilli()}
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := d.store.Put(store.KeyEndpointCache, data); err != nil {
		d.logger.WithError(err).Debug("Failed to persist endpoint cache")
	}
}

// LoadCached returns the cached endpoint identity set when it is younger
// than CacheTTL. Transient fields come back reset: cached identity is
// trusted, cached health is not.
func (d *Discoverer) LoadCached() ([]registry.Endpoint, bool) {
	data, found, err := d.store.Get(store.KeyEndpointCache)
	if err != nil || !found {
		return nil, false
	}

	var set cachedSet
	if err := json.Unmarshal(data, &set); err != nil {
		d.logger.WithError(err).Debug("Discarding corrupt endpoint cache")
		return nil, false
	}
	age := d.now().Sub(time.UnixMilli(set.SavedAt))
	if age < 0 || age > CacheTTL {
		return nil, false
	}

	eps := make([]registry.Endpoint, 0, len(set.Endpoints))
	for _, ep := range set.Endpoints {
		ep.Status = registry.StatusChecking
		ep.LatencyMs = nil
		ep.LastCheckedAt = nil
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return nil, false
	}
	return eps, true
}
