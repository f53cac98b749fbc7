package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/InfamousVague/Wraith-sub005/internal/api"
	"github.com/InfamousVague/Wraith-sub005/pkg/clients"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
)

// RemoteClient reads and writes the preference record in the user's
// server-side profile. Reads feed reconciliation after login; writes are
// fire-and-forget best-effort; a failed write never blocks the local
// preference from applying.
type RemoteClient struct {
	baseURL  func() string
	token    func() string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Entry
}

// RemoteClientConfig configures the profile preference client. BaseURL and
// Token are funcs so the client always targets the current active endpoint
// with the current session.
type RemoteClientConfig struct {
	BaseURL func() string
	Token   func() string
	Timeout time.Duration
	Logger  logging.Logger
}

// NewRemoteClient creates a profile preference client.
func NewRemoteClient(cfg RemoteClientConfig) *RemoteClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteClient{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		client:   clients.NewHTTPClient(cfg.Timeout),
		executor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:   logging.WithComponent(cfg.Logger, "prefs"),
	}
}

// Fetch reads the remote preference snapshot from the user profile.
func (c *RemoteClient) Fetch(ctx context.Context) (api.RemotePreference, error) {
	var snap api.RemotePreference

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/api/profile/preferences", nil)
	if err != nil {
		return snap, fmt.Errorf("failed to create preference request: %w", err)
	}
	c.authorize(req)

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		return c.client.Do(req.Clone(ctx))
	})
	if err != nil {
		return snap, fmt.Errorf("failed to fetch remote preference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return snap, fmt.Errorf("profile error (%d): %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode remote preference: %w", err)
	}
	return snap, nil
}

// Push writes the local preference to the user profile in the background.
// Failures are logged and dropped; the next Push is the retry.
func (c *RemoteClient) Push(pref Preference) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := c.push(ctx, pref); err != nil {
			c.logger.WithError(err).Warn("Preference sync to profile failed; local preference still applies")
		}
	}()
}

func (c *RemoteClient) push(ctx context.Context, pref Preference) error {
	payload := api.RemotePreference{
		AutoFastest:     &pref.AutoFastest,
		PreferredServer: pref.PinnedEndpointID,
		UpdatedAt:       pref.UpdatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL()+"/api/profile/preferences", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		return c.client.Do(req)
	})
	if err != nil {
		return fmt.Errorf("failed to push preference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("profile error (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *RemoteClient) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
