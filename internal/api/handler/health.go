package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	Healthy() bool
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db     Pinger
	broker BrokerStatus
}

// NewHealthHandler creates a new health handler. broker may be nil.
func NewHealthHandler(db Pinger, broker BrokerStatus) *HealthHandler {
	return &HealthHandler{db: db, broker: broker}
}

// Health reports database reachability and broker connectivity.
// The database decides the status code; a disconnected broker only degrades the body.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{"database": "up"}
	status := http.StatusOK
	overall := "ok"

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
		overall = "error"
	}
	if h.broker != nil {
		if h.broker.Healthy() {
			checks["broker"] = "up"
		} else {
			checks["broker"] = "down"
			if overall == "ok" {
				overall = "degraded"
			}
		}
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
