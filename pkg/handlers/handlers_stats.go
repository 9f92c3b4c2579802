package handlers

import (
	"net/http"
	"strconv"

	"github.com/arnavshah/shelter-api-go/pkg/database"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/gin-gonic/gin"
)

// GetStats returns daily counters and current network load
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	daily, err := database.RecentStats(ctx, h.DB, days)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var matches, unmatched, placed, transfers, transferred, cancellations int64
	for _, d := range daily {
		matches += int64(d.Matches)
		unmatched += int64(d.Unmatched)
		placed += int64(d.PeoplePlaced)
		transfers += int64(d.Transfers)
		transferred += int64(d.PeopleTransferred)
		cancellations += int64(d.Cancellations)
	}

	shelters, err := h.Store.ListShelters(ctx, store.ShelterFilter{})
	if err != nil {
		h.respondError(c, err)
		return
	}
	capacity, occupancy := 0, 0
	for _, s := range shelters {
		capacity += s.Capacity
		occupancy += s.Occupancy
	}
	rate := 0.0
	if capacity > 0 {
		rate = float64(occupancy) / float64(capacity)
	}

	c.JSON(http.StatusOK, gin.H{
		"daily": daily,
		"totals": gin.H{
			"matches":            matches,
			"unmatched":          unmatched,
			"people_placed":      placed,
			"transfers":          transfers,
			"people_transferred": transferred,
			"cancellations":      cancellations,
		},
		"network": gin.H{
			"shelters":       len(shelters),
			"capacity":       capacity,
			"occupancy":      occupancy,
			"available":      capacity - occupancy,
			"occupancy_rate": rate,
		},
	})
}

// ListEvents returns the audit trail, optionally for one request or shelter
func (h *Handler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	evts, err := database.RecentEvents(c.Request.Context(), h.DB, c.Query("request_id"), c.Query("shelter_id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}
