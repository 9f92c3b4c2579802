package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the root route
const Version = "1.0.0"

// NewRouter wires every route onto a fresh gin engine. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Shelter Placement API",
			"version": Version,
		})
	})
	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api")
	{
		api.POST("/shelters", h.CreateShelter)
		api.GET("/shelters", h.ListShelters)
		api.GET("/shelters/:id", h.GetShelter)
		api.PUT("/shelters/:id/occupancy", h.SetOccupancy)

		api.POST("/requests", h.CreateRequest)
		api.GET("/requests/:id", h.GetRequest)
		api.GET("/requests/:id/candidates", h.Candidates)
		api.POST("/requests/:id/match", h.MatchRequest)
		api.POST("/requests/:id/complete", h.CompleteRequest)
		api.POST("/requests/:id/resolve", h.ResolveRequest)
		api.POST("/requests/:id/cancel", h.CancelRequest)

		api.POST("/match/batch", h.MatchBatch)
		api.GET("/rebalance/plan", h.PlanRebalance)
		api.POST("/rebalance/execute", h.ExecuteRebalance)

		api.POST("/validate", h.ValidateInput)
		api.GET("/stats", h.GetStats)
		api.GET("/events", h.ListEvents)
	}
	return r
}

// Health reports whether the database answers
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
