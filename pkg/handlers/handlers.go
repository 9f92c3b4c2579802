package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/ledger"
	"github.com/arnavshah/shelter-api-go/pkg/matching"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/rebalance"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler contains dependencies for the route handlers
type Handler struct {
	DB       *gorm.DB
	Store    store.Store
	Ledger   *ledger.Ledger
	Engine   *matching.Engine
	Planner  *rebalance.Planner
	Executor *rebalance.Executor
	Logger   logging.Logger
}

// respondError writes err with the status its kind maps to
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "code": models.ErrorCode(err)}

	var perr *models.PlacementError
	if errors.As(err, &perr) && perr.Filter != nil {
		body["filter"] = perr.Filter
		body["dominant_filter"] = perr.Filter.Dominant()
	}
	if status == http.StatusInternalServerError {
		logging.OrNop(h.Logger).Error("request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidCoordinate), errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoEligibleShelter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrAssignmentConflict),
		errors.Is(err, models.ErrCapacityExceeded),
		errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrInsufficientOccupancy),
		errors.Is(err, models.ErrStaleWrite):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type shelterInput struct {
	Name        string   `json:"name" binding:"required"`
	Capacity    int      `json:"capacity" binding:"required"`
	Occupancy   int      `json:"occupancy"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	Features    []string `json:"features"`
	Description string   `json:"description"`
	Address     string   `json:"address"`
	Phone       string   `json:"phone"`
}

func (in shelterInput) shelter() *models.Shelter {
	return &models.Shelter{
		Name:        in.Name,
		Capacity:    in.Capacity,
		Occupancy:   in.Occupancy,
		Latitude:    *in.Latitude,
		Longitude:   *in.Longitude,
		Features:    in.Features,
		Description: in.Description,
		Address:     in.Address,
		Phone:       in.Phone,
	}
}

// CreateShelter registers a shelter
func (h *Handler) CreateShelter(c *gin.Context) {
	var input shelterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	sh := input.shelter()
	if err := h.Store.CreateShelter(c.Request.Context(), sh); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sh)
}

// ListShelters returns shelters, optionally near a point
func (h *Handler) ListShelters(c *gin.Context) {
	var filter store.ShelterFilter
	if v := c.Query("min_available"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_available must be an integer", "code": "invalid_argument"})
			return
		}
		filter.MinAvailable = n
	}

	if c.Query("lat") != "" || c.Query("lng") != "" {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must both be numbers", "code": "invalid_coordinate"})
			return
		}
		radiusKm := 20.0
		if v := c.Query("radius_km"); v != "" {
			r, err := strconv.ParseFloat(v, 64)
			if err != nil || r <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be a positive number", "code": "invalid_argument"})
				return
			}
			radiusKm = r
		}
		bounds, err := geo.BoundsAround(geo.Coordinate{Lat: lat, Lng: lng}, radiusKm*1000)
		if err != nil {
			h.respondError(c, err)
			return
		}
		filter.Bounds = &bounds
	}

	shelters, err := h.Store.ListShelters(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shelters": shelters, "count": len(shelters)})
}

// GetShelter returns one shelter with its assigned requests
func (h *Handler) GetShelter(c *gin.Context) {
	ctx := c.Request.Context()
	sh, err := h.Store.GetShelter(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	reqs, err := h.Store.ListRequestsByShelter(ctx, sh.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"shelter":            sh,
		"available_capacity": sh.AvailableCapacity(),
		"occupancy_rate":     sh.OccupancyRate(),
		"requests":           reqs,
	})
}

// SetOccupancy overwrites a shelter's head count after a manual recount
func (h *Handler) SetOccupancy(c *gin.Context) {
	var req struct {
		Occupancy *int `json:"occupancy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "occupancy is required", "code": "invalid_argument"})
		return
	}

	occ, err := h.Ledger.Set(c.Request.Context(), c.Param("id"), *req.Occupancy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shelter_id": c.Param("id"), "occupancy": occ})
}

type requestInput struct {
	RequesterName    string         `json:"requester_name" binding:"required"`
	PeopleCount      int            `json:"people_count" binding:"required"`
	Needs            string         `json:"needs"`
	RequiredFeatures []string       `json:"required_features"`
	Latitude         *float64       `json:"latitude" binding:"required"`
	Longitude        *float64       `json:"longitude" binding:"required"`
	Phone            string         `json:"phone"`
	Urgency          models.Urgency `json:"urgency"`
}

// CreateRequest records a placement request. With ?match=true it is matched
// right away.
func (h *Handler) CreateRequest(c *gin.Context) {
	var input requestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	req := &models.Request{
		RequesterName:    input.RequesterName,
		PeopleCount:      input.PeopleCount,
		Needs:            input.Needs,
		RequiredFeatures: input.RequiredFeatures,
		Latitude:         *input.Latitude,
		Longitude:        *input.Longitude,
		Phone:            input.Phone,
		Urgency:          input.Urgency,
	}
	ctx := c.Request.Context()
	if err := h.Store.CreateRequest(ctx, req); err != nil {
		h.respondError(c, err)
		return
	}

	if c.Query("match") != "true" {
		c.JSON(http.StatusCreated, req)
		return
	}

	assignment, err := h.Engine.FindBestMatch(ctx, req.ID)
	if fresh, getErr := h.Store.GetRequest(ctx, req.ID); getErr == nil {
		req = fresh
	}
	resp := gin.H{"request": req}
	if err != nil {
		resp["error"] = err.Error()
		resp["code"] = models.ErrorCode(err)
	} else {
		resp["assignment"] = assignment
	}
	c.JSON(http.StatusCreated, resp)
}

// GetRequest returns one request
func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.Store.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Candidates previews the ranked shelters for a request
func (h *Handler) Candidates(c *gin.Context) {
	candidates, summary, err := h.Engine.Candidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "filtered": summary})
}

// MatchRequest assigns a pending request to its best shelter
func (h *Handler) MatchRequest(c *gin.Context) {
	assignment, err := h.Engine.FindBestMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

// CompleteRequest marks an assigned request completed
func (h *Handler) CompleteRequest(c *gin.Context) {
	h.transition(c, h.Engine.Complete)
}

// ResolveRequest marks an assigned request resolved
func (h *Handler) ResolveRequest(c *gin.Context) {
	h.transition(c, h.Engine.Resolve)
}

// CancelRequest withdraws a request and frees its places
func (h *Handler) CancelRequest(c *gin.Context) {
	h.transition(c, h.Engine.Cancel)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, id string) (*models.Request, error)) {
	req, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// MatchBatch matches every pending request
func (h *Handler) MatchBatch(c *gin.Context) {
	results, err := h.Engine.ProcessPendingBatch(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	assigned := 0
	for _, r := range results {
		if r.Assignment != nil {
			assigned++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"processed": len(results),
		"assigned":  assigned,
		"failed":    len(results) - assigned,
	})
}
