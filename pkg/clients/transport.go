package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns a configured HTTP transport with connection limits.
// The connection manager talks to a handful of backend endpoints at once;
// caps keep a dead endpoint from accumulating dialing goroutines while it is
// being probed and retried.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost: 16,

		// Keep a few connections warm per endpoint for probe reuse
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient returns an http.Client with the shared transport and an
// overall request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: DefaultTransport(),
		Timeout:   timeout,
	}
}
