package api

import (
	"net/http"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/device/:id/plan
func (r *Resolver) NextPlan(c *gin.Context) {
	payload, err := r.scheduler.SelectNextPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	if payload == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// POST /api/v1/device/report
func (r *Resolver) Report(c *gin.Context) {
	var report model.ExecutionReport
	if err := c.ShouldBindJSON(&report); err != nil {
		badRequest(c, err)
		return
	}

	status, err := r.scheduler.HandleReport(c.Request.Context(), report)
	if err != nil {
		r.fail(c, err)
		return
	}
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusCreated, status)
}

// POST /api/v1/device/:id/telemetry
func (r *Resolver) Telemetry(c *gin.Context) {
	var telemetry model.Telemetry
	if err := c.ShouldBindJSON(&telemetry); err != nil {
		badRequest(c, err)
		return
	}

	if err := r.scheduler.RecordTelemetry(c.Request.Context(), c.Param("id"), telemetry); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Resolver) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": r.version})
}
