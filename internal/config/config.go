// Package config resolves the helm daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/InfamousVague/Wraith-sub005/internal/registry"
	pkgconfig "github.com/InfamousVague/Wraith-sub005/pkg/config"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the resolved daemon configuration.
type Config struct {
	Environment string

	// EntryURL is the server whose mesh discovery route is asked first.
	EntryURL string
	// Fallbacks is the static endpoint seed, also walked when the entry is
	// unreachable.
	Fallbacks []registry.Endpoint
	// DefaultEndpointID is selected when a pinned endpoint disappears.
	DefaultEndpointID string

	SweepInterval       time.Duration
	DevSweepInterval    time.Duration
	RediscoveryInterval time.Duration
	InitialSweepDelay   time.Duration
	ProbeTimeout        time.Duration
	PeerPollInterval    time.Duration

	// StateDir holds the persisted key/value state.
	StateDir string

	// ProfileURL is the user-profile service for remote preference sync.
	// Empty disables the remote sync.
	ProfileURL string
}

// defaultFallbacks is the built-in production endpoint seed, used when
// HELM_FALLBACK_ENDPOINTS is unset. Entries are "id=baseURL|streamURL".
var defaultFallbacks = []string{
	"us-east=https://us-east.wraith.app|wss://us-east.wraith.app/ws",
	"eu-west=https://eu-west.wraith.app|wss://eu-west.wraith.app/ws",
}

// Load resolves configuration from the environment.
func Load() (Config, error) {
	env := pkgconfig.GetEnv("HELM_ENV", EnvProduction)
	if env != EnvProduction && env != EnvDevelopment {
		return Config{}, fmt.Errorf("invalid HELM_ENV %q", env)
	}

	fallbacks, err := parseFallbacks(pkgconfig.GetEnvList("HELM_FALLBACK_ENDPOINTS", defaultFallbacks))
	if err != nil {
		return Config{}, err
	}
	if env == EnvDevelopment {
		fallbacks = append(fallbacks, registry.Endpoint{
			ID:          "local",
			DisplayName: "Local",
			BaseURL:     pkgconfig.GetEnv("HELM_LOCAL_ENDPOINT", "http://localhost:18000"),
			StreamURL:   pkgconfig.GetEnv("HELM_LOCAL_STREAM", "ws://localhost:18000/ws"),
			IsLocalDev:  true,
		})
	}
	if len(fallbacks) == 0 {
		return Config{}, fmt.Errorf("no fallback endpoints configured")
	}

	defaultID := pkgconfig.GetEnv("HELM_DEFAULT_ENDPOINT", fallbacks[0].ID)
	found := false
	for _, fb := range fallbacks {
		if fb.ID == defaultID {
			found = true
			break
		}
	}
	if !found {
		return Config{}, fmt.Errorf("HELM_DEFAULT_ENDPOINT %q is not a configured fallback", defaultID)
	}

	return Config{
		Environment:         env,
		EntryURL:            pkgconfig.GetEnv("HELM_ENTRY_URL", fallbacks[0].BaseURL),
		Fallbacks:           fallbacks,
		DefaultEndpointID:   defaultID,
		SweepInterval:       pkgconfig.GetEnvDuration("HELM_SWEEP_INTERVAL", 30*time.Second),
		DevSweepInterval:    pkgconfig.GetEnvDuration("HELM_DEV_SWEEP_INTERVAL", 5*time.Second),
		RediscoveryInterval: pkgconfig.GetEnvDuration("HELM_REDISCOVERY_INTERVAL", 5*time.Minute),
		InitialSweepDelay:   pkgconfig.GetEnvDuration("HELM_INITIAL_SWEEP_DELAY", 2*time.Second),
		ProbeTimeout:        pkgconfig.GetEnvDuration("HELM_PROBE_TIMEOUT", 5*time.Second),
		PeerPollInterval:    pkgconfig.GetEnvDuration("HELM_PEER_POLL_INTERVAL", 15*time.Second),
		StateDir:            pkgconfig.GetEnv("HELM_STATE_DIR", defaultStateDir()),
		ProfileURL:          pkgconfig.GetEnv("HELM_PROFILE_URL", ""),
	}, nil
}

// IsDevelopment reports whether the development environment is active.
func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wraith", "helm")
	}
	return ".helm-state"
}

// parseFallbacks parses "id=baseURL" or "id=baseURL|streamURL" entries.
func parseFallbacks(entries []string) ([]registry.Endpoint, error) {
	eps := make([]registry.Endpoint, 0, len(entries))
	for _, entry := range entries {
		id, urls, ok := strings.Cut(entry, "=")
		if !ok || id == "" || urls == "" {
			return nil, fmt.Errorf("invalid fallback endpoint %q, want id=baseURL|streamURL", entry)
		}
		baseURL, streamURL, _ := strings.Cut(urls, "|")
		eps = append(eps, registry.Endpoint{
			ID:          id,
			DisplayName: id,
			BaseURL:     baseURL,
			StreamURL:   streamURL,
		})
	}
	return eps, nil
}
