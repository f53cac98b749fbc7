// Package prober measures endpoint health and latency. Probes are plain
// health-route round trips with a hard per-probe timeout; a sweep fans them
// out concurrently so one hung endpoint never delays the others.
package prober

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	"github.com/InfamousVague/Wraith-sub005/pkg/clients"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
	"github.com/InfamousVague/Wraith-sub005/pkg/monitoring"
)

// DefaultTimeout is the per-probe deadline. A probe slower than this counts
// as offline regardless of what the endpoint eventually answers.
const DefaultTimeout = 5 * time.Second

// Prober checks endpoint health over HTTP.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  logging.Entry
	metrics *monitoring.ConnectionMetrics
	now     func() time.Time
}

// Config holds Prober dependencies. Metrics may be nil.
type Config struct {
	Timeout time.Duration
	Logger  logging.Logger
	Metrics *monitoring.ConnectionMetrics
}

// New creates a Prober.
func New(cfg Config) *Prober {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Prober{
		client:  clients.NewHTTPClient(cfg.Timeout),
		timeout: cfg.Timeout,
		logger:  logging.WithComponent(cfg.Logger, "prober"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// SweepResult pairs an endpoint id with its probe outcome.
type SweepResult struct {
	ID     string
	Result registry.ProbeResult
}

// Probe checks a single endpoint. Any 2xx from the health route within the
// timeout means online with the measured round-trip latency; anything else,
// including transport errors and timeouts, means offline. Probe never
// returns an error: unreachable is a result, not a failure.
func (p *Prober) Probe(ctx context.Context, ep registry.Endpoint) registry.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+"/api/health", nil)
	if err != nil {
		return registry.ProbeResult{Online: false, CheckedAt: p.now()}
	}

	resp, err := p.client.Do(req)
	checkedAt := p.now()
	if err != nil {
		p.logger.WithError(err).WithField("endpoint_id", ep.ID).Debug("Probe failed")
		if p.metrics != nil {
			p.metrics.ProbeFailures.WithLabelValues(ep.ID).Inc()
		}
		return registry.ProbeResult{Online: false, CheckedAt: checkedAt}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if p.metrics != nil {
			p.metrics.ProbeFailures.WithLabelValues(ep.ID).Inc()
		}
		return registry.ProbeResult{Online: false, CheckedAt: checkedAt}
	}

	elapsed := checkedAt.Sub(start)
	if p.metrics != nil {
		p.metrics.ProbeLatency.WithLabelValues(ep.ID).Observe(elapsed.Seconds())
	}
	return registry.ProbeResult{
		Online:    true,
		LatencyMs: elapsed.Milliseconds(),
		CheckedAt: checkedAt,
	}
}

// Sweep probes every given endpoint concurrently and returns all results.
// The call returns once the slowest probe resolves or times out; total sweep
// time is bounded by the per-probe timeout, not the endpoint count.
func (p *Prober) Sweep(ctx context.Context, eps []registry.Endpoint) []SweepResult {
	results := make([]SweepResult, len(eps))
	var wg sync.WaitGroup
	for i, ep := range eps {
		wg.Add(1)
		go func(i int, ep registry.Endpoint) {
			defer wg.Done()
			results[i] = SweepResult{ID: ep.ID, Result: p.Probe(ctx, ep)}
		}(i, ep)
	}
	wg.Wait()
	return results
}
