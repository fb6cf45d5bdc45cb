package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/devices
func (r *Resolver) ListDevices(c *gin.Context) {
	devices, err := r.scheduler.ListDevices(c.Request.Context(), ownerOf(c))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices, "count": len(devices)})
}

// POST /api/v1/devices
func (r *Resolver) CreateDevice(c *gin.Context) {
	var input model.DeviceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	device, err := r.scheduler.RegisterDevice(c.Request.Context(), ownerOf(c), input)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// GET /api/v1/devices/:id
func (r *Resolver) GetDevice(c *gin.Context) {
	device, err := r.scheduler.GetDevice(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// PATCH /api/v1/devices/:id
func (r *Resolver) UpdateDevice(c *gin.Context) {
	var input model.DeviceUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	device, err := r.scheduler.UpdateDevice(c.Request.Context(), ownerOf(c), c.Param("id"), input)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// DELETE /api/v1/devices/:id
func (r *Resolver) DeleteDevice(c *gin.Context) {
	if err := r.scheduler.DeleteDevice(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/devices/:id/plans
func (r *Resolver) ListPlans(c *gin.Context) {
	plans, err := r.scheduler.ListPlans(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans, "count": len(plans)})
}

// POST /api/v1/devices/:id/plans
func (r *Resolver) CreatePlan(c *gin.Context) {
	var input model.PlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	plan, err := r.scheduler.CreatePlan(c.Request.Context(), ownerOf(c), c.Param("id"), input)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// GET /api/v1/devices/:id/plans/:name
func (r *Resolver) GetPlan(c *gin.Context) {
	plan, err := r.scheduler.GetPlan(c.Request.Context(), ownerOf(c), c.Param("id"), c.Param("name"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// PATCH /api/v1/devices/:id/plans
//
// The body names the plan in plan_to_stop or plan_name; every other key is
// a field to update, e.g. {"plan_type": "default_stop", "plan_to_stop": "p2"}.
func (r *Resolver) UpdatePlanByBody(c *gin.Context) {
	fields, ok := r.bindFields(c)
	if !ok {
		return
	}

	var name string
	for _, key := range []string{"plan_to_stop", "plan_name"} {
		raw, found := fields[key]
		if !found {
			continue
		}
		delete(fields, key)
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "must be a non empty string", "field": key})
			return
		}
	}
	if name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "plan_name or plan_to_stop is required", "field": "plan_name"})
		return
	}

	r.updatePlan(c, name, fields)
}

// PATCH /api/v1/devices/:id/plans/:name
func (r *Resolver) UpdatePlan(c *gin.Context) {
	fields, ok := r.bindFields(c)
	if !ok {
		return
	}
	r.updatePlan(c, c.Param("name"), fields)
}

func (r *Resolver) bindFields(c *gin.Context) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, err)
		return nil, false
	}
	return fields, true
}

func (r *Resolver) updatePlan(c *gin.Context, name string, fields map[string]json.RawMessage) {
	plan, err := r.scheduler.UpdatePlan(c.Request.Context(), ownerOf(c), c.Param("id"), name, fields)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// DELETE /api/v1/devices/:id/plans/:name
func (r *Resolver) DeletePlan(c *gin.Context) {
	if err := r.scheduler.DeletePlan(c.Request.Context(), ownerOf(c), c.Param("id"), c.Param("name")); err != nil {
		r.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/devices/:id/plans/:name/reset
func (r *Resolver) ResetPlan(c *gin.Context) {
	plan, err := r.scheduler.ResetPlan(c.Request.Context(), ownerOf(c), c.Param("id"), c.Param("name"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// GET /api/v1/devices/:id/statuses?limit=n
func (r *Resolver) ListStatuses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	statuses, err := r.scheduler.ListStatuses(c.Request.Context(), ownerOf(c), c.Param("id"), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statuses, "count": len(statuses)})
}

// GET /api/v1/devices/:id/statuses/:status
func (r *Resolver) GetStatus(c *gin.Context) {
	status, err := r.scheduler.GetStatus(c.Request.Context(), ownerOf(c), c.Param("id"), c.Param("status"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/devices/:id/chart
func (r *Resolver) WaterChart(c *gin.Context) {
	chart, err := r.scheduler.WaterChart(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": chart, "count": len(chart)})
}
