package api

import (
	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the device facing and the owner facing routes. Device
// routes are keyed by device_id and carry no credentials.
func NewRouter(r *Resolver, auth config.Auth, owners OwnerStore, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log.Named("http")))

	router.GET("/healthz", r.Health)

	v1 := router.Group("/api/v1")

	device := v1.Group("/device")
	{
		device.GET("/:id/plan", r.NextPlan)
		device.POST("/report", r.Report)
		device.POST("/:id/telemetry", r.Telemetry)
	}

	owned := v1.Group("", Authenticate(auth, owners))
	{
		owned.GET("/stream", r.Stream)

		devices := owned.Group("/devices")
		devices.GET("", r.ListDevices)
		devices.POST("", r.CreateDevice)
		devices.GET("/:id", r.GetDevice)
		devices.PATCH("/:id", r.UpdateDevice)
		devices.DELETE("/:id", r.DeleteDevice)

		devices.GET("/:id/plans", r.ListPlans)
		devices.POST("/:id/plans", r.CreatePlan)
		devices.PATCH("/:id/plans", r.UpdatePlanByBody)
		devices.GET("/:id/plans/:name", r.GetPlan)
		devices.PATCH("/:id/plans/:name", r.UpdatePlan)
		devices.DELETE("/:id/plans/:name", r.DeletePlan)
		devices.POST("/:id/plans/:name/reset", r.ResetPlan)

		devices.GET("/:id/statuses", r.ListStatuses)
		devices.GET("/:id/statuses/:status", r.GetStatus)
		devices.GET("/:id/chart", r.WaterChart)
	}

	return router
}
