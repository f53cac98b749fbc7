// Package handlers exposes the daemon's local HTTP control surface. The
// routes render state snapshots and accept selection intents; none of the
// underlying subsystem errors surface as 5xx, a degraded mesh shows up as
// status values in the payloads.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/InfamousVague/Wraith-sub005/internal/manager"
	"github.com/InfamousVague/Wraith-sub005/internal/mesh"
	"github.com/InfamousVague/Wraith-sub005/pkg/logging"
)

var (
	logger      logging.Logger
	mgr         *manager.Manager
	tracker     *mesh.Tracker
	environment string
)

// Init initializes the handlers with their dependencies.
func Init(log logging.Logger, m *manager.Manager, t *mesh.Tracker, env string) {
	logger = log
	mgr = m
	tracker = t
	environment = env
}

// Register attaches the control routes to the router.
func Register(router gin.IRouter) {
	router.GET("/status", GetStatus)
	router.GET("/servers", GetServers)
	router.GET("/peers", GetPeers)
	router.POST("/servers/:id/pin", PinServer)
	router.POST("/mode/auto", SetAutoMode)
	router.POST("/discover", TriggerDiscovery)
}

// GetStatus returns the active endpoint and selection mode.
func GetStatus(c *gin.Context) {
	pref := mgr.Preference()
	resp := gin.H{
		"environment": environment,
		"autoFastest": pref.AutoFastest,
		"timestamp":   time.Now().UnixMilli(),
	}
	if ep, ok := mgr.ActiveEndpoint(); ok {
		resp["active"] = ep
	}
	if !pref.AutoFastest && pref.PinnedEndpointID != "" {
		resp["pinned"] = pref.PinnedEndpointID
	}
	c.JSON(http.StatusOK, resp)
}

// GetServers returns the known endpoints with their observed health.
func GetServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"servers":   mgr.Endpoints(),
		"active":    mgr.ActiveID(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// GetPeers returns the last known peer-mesh snapshot.
func GetPeers(c *gin.Context) {
	c.JSON(http.StatusOK, tracker.Snapshot())
}

// PinServer selects an endpoint manually, leaving auto mode.
func PinServer(c *gin.Context) {
	id := c.Param("id")
	if err := mgr.PinEndpoint(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.WithField("endpoint_id", id).Info("Endpoint pinned")
	c.JSON(http.StatusOK, gin.H{"active": mgr.ActiveID()})
}

// SetAutoMode enables or disables auto-fastest selection.
func SetAutoMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled (bool) is required"})
		return
	}

	mgr.SetAutoFastest(*req.Enabled)
	pref := mgr.Preference()
	c.JSON(http.StatusOK, gin.H{
		"autoFastest": pref.AutoFastest,
		"active":      mgr.ActiveID(),
	})
}

// TriggerDiscovery runs a discovery pass immediately.
func TriggerDiscovery(c *gin.Context) {
	if err := mgr.Refresh(c.Request.Context()); err != nil {
		logger.WithError(err).Warn("Manual discovery failed")
		// The previous endpoint set stays in effect; report that rather
		// than failing the request.
		c.JSON(http.StatusOK, gin.H{
			"refreshed": false,
			"servers":   mgr.Endpoints(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refreshed": true,
		"servers":   mgr.Endpoints(),
	})
}
