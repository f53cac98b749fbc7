package main

import (
	"context"
	"fmt"
	"time"

	"github.com/InfamousVague/Wraith-sub005/internal/auth"
	helmconfig "github.com/InfamousVague/Wraith-sub005/internal/config"
	"github.com/InfamousVague/Wraith-sub005/internal/discovery"
	"github.com/InfamousVague/Wraith-sub005/internal/handlers"
	"github.com/InfamousVague/Wraith-sub005/internal/manager"
	"github.com/InfamousVague/Wraith-sub005/internal/mesh"
	"github.com/InfamousVague/Wraith-sub005/internal/notifier"
	"github.com/InfamousVague/Wraith-sub005/internal/prefs"
	"github.com/InfamousVague/Wraith-sub005/internal/prober"
	"github.com/InfamousVague/Wraith-sub005/internal/store"
	"github.com/InfamousVague/Wraith-sub005/pkg/config"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
	"github.com/InfamousVague/Wraith-sub005/pkg/monitoring"
	"github.com/InfamousVague/Wraith-sub005/pkg/server"
	"github.com/InfamousVague/Wraith-sub005/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("helm")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithField("service", "helm").Info("Starting Helm Connection Manager")

	cfg, err := helmconfig.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Persistent key/value state
	fileStore, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open state directory")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("helm", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("helm", version.Version, version.GitCommit)
	connectionMetrics := metricsCollector.CreateConnectionMetrics()

	// Re-auth on failover, with cached session tokens. The daemon owns the
	// trigger only; challenge/response login lives with the client that holds
	// the user's keys.
	reauther := auth.New(auth.Config{
		Login: func(ctx context.Context, endpointID string) (string, error) {
			logger.WithField("endpoint_id", endpointID).Info("Session re-authentication requested")
			return "", fmt.Errorf("no credential provider attached")
		},
		Store:  fileStore,
		Logger: logger,
	})
	failoverNotifier := notifier.New()
	failoverNotifier.OnActiveEndpointChange(reauther.HandleFailover)

	// Remote preference sync against the user-profile service
	var remote *prefs.RemoteClient
	if cfg.ProfileURL != "" {
		remote = prefs.NewRemoteClient(prefs.RemoteClientConfig{
			BaseURL: func() string { return cfg.ProfileURL },
			Token:   reauther.Token,
			Logger:  logger,
		})
	}

	// Core components
	discoverer := discovery.New(discovery.Config{
		EntryURL:  cfg.EntryURL,
		Fallbacks: cfg.Fallbacks,
		Store:     fileStore,
		Logger:    logger,
		Metrics:   connectionMetrics,
	})
	healthProber := prober.New(prober.Config{
		Timeout: cfg.ProbeTimeout,
		Logger:  logger,
		Metrics: connectionMetrics,
	})

	mgr := manager.New(manager.Config{
		Discoverer:          discoverer,
		Prober:              healthProber,
		Store:               fileStore,
		Notifier:            failoverNotifier,
		Logger:              logger,
		Metrics:             connectionMetrics,
		Remote:              remote,
		Fallbacks:           cfg.Fallbacks,
		DefaultEndpointID:   cfg.DefaultEndpointID,
		Development:         cfg.IsDevelopment(),
		SweepInterval:       cfg.SweepInterval,
		DevSweepInterval:    cfg.DevSweepInterval,
		RediscoveryInterval: cfg.RediscoveryInterval,
		InitialSweepDelay:   cfg.InitialSweepDelay,
	})
	mgr.Start()
	defer mgr.Close()

	if remote != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			snap, err := remote.Fetch(ctx)
			if err != nil {
				logger.WithError(err).Warn("Remote preference fetch failed, local preference applies")
				return
			}
			mgr.ApplyRemotePreference(snap)
		}()
	}

	// Peer mesh view for the dashboard
	tracker := mesh.New(mesh.Config{
		Active:   mgr.ActiveEndpoint,
		Registry: mgr.Registry(),
		Interval: cfg.PeerPollInterval,
		Logger:   logger,
		Metrics:  connectionMetrics,
	})
	tracker.Start()
	defer tracker.Close()

	// Health checks
	healthChecker.AddCheck("store", monitoring.PingHealthCheck("store", fileStore.Ping))
	healthChecker.AddCheck("active_endpoint", monitoring.PingHealthCheck("active_endpoint", func() error {
		if _, ok := mgr.ActiveEndpoint(); !ok {
			return fmt.Errorf("no active endpoint selected")
		}
		return nil
	}))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"HELM_ENV": cfg.Environment,
	}))

	// Initialize handlers
	handlers.Init(logger, mgr, tracker, cfg.Environment)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "helm", healthChecker, metricsCollector)
	handlers.Register(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("helm", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
