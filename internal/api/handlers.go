package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stackwatch/sentinel/internal/alerting"
	"github.com/stackwatch/sentinel/pkg/errors"
)

// StatusHandler serves the read-only supervision status endpoints
type StatusHandler struct {
	deps Deps
}

// NewStatusHandler creates the status handler
func NewStatusHandler(deps Deps) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// Healthz reports process liveness
func (h *StatusHandler) Healthz(c *gin.Context) {
	SuccessResponse(c, gin.H{"status": "ok"})
}

// Readyz reports whether the supervisor has records to serve
func (h *StatusHandler) Readyz(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"status":    "ok",
		"instances": len(h.deps.Supervisor.Records()),
	})
}

// ListInstances returns the health record of every monitored instance
func (h *StatusHandler) ListInstances(c *gin.Context) {
	SuccessResponse(c, h.deps.Supervisor.Records())
}

// GetInstance returns one instance's health record
func (h *StatusHandler) GetInstance(c *gin.Context) {
	id := c.Param("id")
	record, ok := h.deps.Supervisor.Record(id)
	if !ok {
		ErrorResponse(c, errors.NewNotFoundError("instance "+id))
		return
	}
	SuccessResponse(c, record)
}

// ClearEscalation re-enables automatic recovery for an escalated instance
func (h *StatusHandler) ClearEscalation(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Supervisor.ClearEscalation(id); err != nil {
		ErrorResponse(c, err)
		return
	}
	SuccessResponse(c, gin.H{"instance_id": id, "escalated": false})
}

// ListBreakers returns a snapshot of every circuit breaker
func (h *StatusHandler) ListBreakers(c *gin.Context) {
	SuccessResponse(c, h.deps.Breakers.Snapshots())
}

// ListAlerts returns the currently firing alerts
func (h *StatusHandler) ListAlerts(c *gin.Context) {
	alerts := []alerting.FiredAlert{}
	if h.deps.Alerts != nil {
		alerts = h.deps.Alerts.Active()
	}
	SuccessResponse(c, alerts)
}
