package http

import (
	"net/http"
	"time"

	"hubcom/internal/core/ports"
	apperrors "hubcom/pkg/errors"
	"hubcom/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RelayHandler struct {
	registry  ports.HubRegistry
	ws        ports.WebSocketHandler
	startedAt time.Time
}

var _ ports.HTTPHandler = (*RelayHandler)(nil)

func NewRelayHandler(registry ports.HubRegistry, ws ports.WebSocketHandler) *RelayHandler {
	return &RelayHandler{
		registry:  registry,
		ws:        ws,
		startedAt: time.Now(),
	}
}

// SetupRoutes mounts the relay socket at wsPath next to the REST surface.
func (h *RelayHandler) SetupRoutes(router *gin.Engine, wsPath string) {
	router.GET(wsPath, h.ws.HandleWebSocket)
	router.GET("/health", h.ws.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/hubs/:hub", h.GetHub)
		api.GET("/stats", h.GetStats)
	}
}

type hubMember struct {
	ConnID       string    `json:"conn"`
	Peer         string    `json:"peer"`
	City         string    `json:"city,omitempty"`
	Country      string    `json:"country,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (h *RelayHandler) GetHub(c *gin.Context) {
	hub := c.Param("hub")
	if err := validation.ValidateHubName(hub); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	records, err := h.registry.FindByHub(c.Request.Context(), hub)
	if err != nil {
		_ = c.Error(apperrors.NewInternalError(err, "hub lookup failed"))
		return
	}

	members := make([]hubMember, 0, len(records))
	for _, rec := range records {
		members = append(members, hubMember{
			ConnID:       rec.ConnID,
			Peer:         rec.Name,
			City:         rec.City,
			Country:      rec.Country,
			RegisteredAt: rec.RegisteredAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"hub":     hub,
		"exists":  len(members) > 0,
		"peers":   len(members),
		"members": members,
	})
}

func (h *RelayHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_peers":   h.registry.Count(),
		"hubs":           h.registry.HubCount(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
