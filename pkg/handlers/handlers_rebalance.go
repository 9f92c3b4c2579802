package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/gin-gonic/gin"
)

// PlanRebalance returns the current rebalance plan without applying it
func (h *Handler) PlanRebalance(c *gin.Context) {
	threshold, ok := parseThreshold(c, c.Query("threshold"))
	if !ok {
		return
	}

	plan, err := h.Planner.Plan(c.Request.Context(), threshold)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// ExecuteRebalance applies the posted suggestions, or plans and applies
// when none are posted
func (h *Handler) ExecuteRebalance(c *gin.Context) {
	var req struct {
		Threshold   float64                      `json:"threshold"`
		Suggestions []models.RebalanceSuggestion `json:"suggestions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	ctx := c.Request.Context()
	var plan *models.RebalancePlan
	suggestions := req.Suggestions
	if len(suggestions) == 0 {
		var err error
		plan, err = h.Planner.Plan(ctx, req.Threshold)
		if err != nil {
			h.respondError(c, err)
			return
		}
		suggestions = plan.Suggestions
	}

	results := h.Executor.Execute(ctx, suggestions)

	summary := gin.H{"applied": 0, "partial": 0, "failed": 0, "people_moved": 0}
	moved := 0
	for _, r := range results {
		summary[string(r.Status)] = summary[string(r.Status)].(int) + 1
		moved += r.MovedPeople
	}
	summary["people_moved"] = moved

	resp := gin.H{"results": results, "summary": summary}
	if plan != nil {
		resp["plan"] = plan
	}
	c.JSON(http.StatusOK, resp)
}

func parseThreshold(c *gin.Context, raw string) (float64, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a number", "code": "invalid_argument"})
		return 0, false
	}
	return v, true
}
