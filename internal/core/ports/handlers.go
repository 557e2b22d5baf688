package ports

import (
	"github.com/gin-gonic/gin"
)

// HTTPHandler serves the relay's REST surface.
type HTTPHandler interface {
	GetHub(c *gin.Context)
	GetStats(c *gin.Context)
}

// WebSocketHandler upgrades and serves relay connections.
type WebSocketHandler interface {
	HandleWebSocket(c *gin.Context)
	HealthCheck(c *gin.Context)
}
