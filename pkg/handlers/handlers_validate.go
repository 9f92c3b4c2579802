package handlers

import (
	"fmt"
	"net/http"

	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/gin-gonic/gin"
)

// ValidateInput checks a bulk intake payload without storing anything
func (h *Handler) ValidateInput(c *gin.Context) {
	var input struct {
		Shelters []models.Shelter `json:"shelters"`
		Requests []models.Request `json:"requests"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	if len(input.Shelters) == 0 && len(input.Requests) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": "At least one shelter or request is required",
		})
		return
	}

	var problems []string
	shelterIDs := make(map[string]bool)
	totalCapacity, totalOccupancy := 0, 0
	for i, s := range input.Shelters {
		label := shelterLabel(i, s)
		if s.ID != "" {
			if shelterIDs[s.ID] {
				problems = append(problems, "Duplicate shelter ID: "+s.ID)
			}
			shelterIDs[s.ID] = true
		}
		if s.Capacity <= 0 {
			problems = append(problems, label+": capacity must be positive")
		}
		if s.Occupancy < 0 || s.Occupancy > s.Capacity {
			problems = append(problems, fmt.Sprintf("%s: occupancy %d outside [0, %d]", label, s.Occupancy, s.Capacity))
		}
		if err := (geo.Coordinate{Lat: s.Latitude, Lng: s.Longitude}).Validate(); err != nil {
			problems = append(problems, label+": "+err.Error())
		}
		totalCapacity += s.Capacity
		totalOccupancy += s.Occupancy
	}

	requestIDs := make(map[string]bool)
	people := 0
	for i, r := range input.Requests {
		label := fmt.Sprintf("request %d", i)
		if r.ID != "" {
			label = "request " + r.ID
			if requestIDs[r.ID] {
				problems = append(problems, "Duplicate request ID: "+r.ID)
			}
			requestIDs[r.ID] = true
		}
		if r.PeopleCount <= 0 {
			problems = append(problems, label+": people_count must be positive")
		}
		if r.Urgency != "" && !r.Urgency.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown urgency %q", label, r.Urgency))
		}
		if err := r.Coordinate().Validate(); err != nil {
			problems = append(problems, label+": "+err.Error())
		}
		people += r.PeopleCount
	}

	stats := gin.H{
		"shelter_count":   len(input.Shelters),
		"request_count":   len(input.Requests),
		"total_capacity":  totalCapacity,
		"total_available": totalCapacity - totalOccupancy,
		"people":          people,
	}
	if len(problems) > 0 {
		c.JSON(http.StatusOK, gin.H{"valid": false, "errors": problems, "stats": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "stats": stats})
}

func shelterLabel(i int, s models.Shelter) string {
	switch {
	case s.ID != "":
		return "shelter " + s.ID
	case s.Name != "":
		return "shelter " + s.Name
	}
	return fmt.Sprintf("shelter %d", i)
}
