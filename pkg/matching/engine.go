// Package matching places pending requests into shelters.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/ledger"
	"github.com/arnavshah/shelter-api-go/pkg/metrics"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/scorer"
	"github.com/arnavshah/shelter-api-go/pkg/store"
)

// commitAttempts is the first commit plus one retry against the remaining pool
const commitAttempts = 2

// Engine scores shelters for a request and commits the winner through the
// ledger
type Engine struct {
	store   store.Store
	ledger  *ledger.Ledger
	scorer  *scorer.Scorer
	events  events.Sink
	logger  logging.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithEvents sets where assignment events go
func WithEvents(sink events.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = metrics.OrNop(m) }
}

// WithClock overrides time.Now for assignment timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine
func New(s store.Store, l *ledger.Ledger, sc *scorer.Scorer, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		ledger:  l,
		scorer:  sc,
		events:  events.Nop{},
		logger:  logging.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates ranks every eligible shelter for a request without committing
// anything
func (e *Engine) Candidates(ctx context.Context, requestID string) ([]models.MatchCandidate, models.FilterSummary, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, models.FilterSummary{}, err
	}
	shelters, err := e.store.ListShelters(ctx, store.ShelterFilter{})
	if err != nil {
		return nil, models.FilterSummary{}, err
	}
	candidates, summary := e.scorer.Candidates(ctx, req, shelters)
	return candidates, summary, nil
}

// FindBestMatch assigns a pending request to its best eligible shelter.
//
// Scoring runs on an unlocked snapshot; capacity is re-checked by the ledger
// at commit. If another writer took the winner's capacity first, the pool is
// reloaded without that shelter and the match is retried once before failing
// with models.ErrAssignmentConflict.
func (e *Engine) FindBestMatch(ctx context.Context, requestID string) (*models.Assignment, error) {
	start := time.Now()
	assignment, err := e.findBestMatch(ctx, requestID)

	outcome := "assigned"
	if err != nil {
		outcome = models.ErrorCode(err)
	}
	e.metrics.RecordMatch(outcome, time.Since(start))

	if err != nil {
		e.reportUnmatched(ctx, requestID, err)
		return nil, err
	}
	e.metrics.RecordScore(assignment.CombinedScore)
	e.logger.Info("request assigned",
		"request_id", assignment.RequestID,
		"shelter_id", assignment.ShelterID,
		"score", assignment.CombinedScore,
		"distance_m", assignment.DistanceMeters,
	)
	return assignment, nil
}

func (e *Engine) findBestMatch(ctx context.Context, requestID string) (*models.Assignment, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, models.NewError(models.ErrInvalidState, "request", req.ID, fmt.Sprintf("status is %s, want pending", req.Status))
	}
	if req.PeopleCount <= 0 {
		return nil, models.NewError(models.ErrInvalidArgument, "request", req.ID, "people_count must be positive")
	}
	if err := req.Coordinate().Validate(); err != nil {
		return nil, models.NewError(err, "request", req.ID, "request location")
	}

	excluded := make(map[string]bool)
	for attempt := 0; attempt < commitAttempts; attempt++ {
		shelters, err := e.store.ListShelters(ctx, store.ShelterFilter{})
		if err != nil {
			return nil, err
		}
		pool := shelters[:0]
		for _, sh := range shelters {
			if !excluded[sh.ID] {
				pool = append(pool, sh)
			}
		}

		candidates, summary := e.scorer.Candidates(ctx, req, pool)
		if len(candidates) == 0 {
			if attempt > 0 {
				perr := models.NewError(models.ErrAssignmentConflict, "request", req.ID, "no shelter left after losing the commit race: "+summary.String())
				perr.Filter = &summary
				return nil, perr
			}
			perr := models.NewError(models.ErrNoEligibleShelter, "request", req.ID, summary.String())
			perr.Filter = &summary
			return nil, perr
		}

		winner := candidates[0]
		assignment, err := e.commit(ctx, req, &winner)
		if err == nil {
			return assignment, nil
		}
		if !errors.Is(err, models.ErrCapacityExceeded) && !errors.Is(err, models.ErrStaleWrite) {
			return nil, err
		}
		e.logger.Warn("lost capacity race, re-ranking",
			"request_id", req.ID, "shelter_id", winner.Shelter.ID, "attempt", attempt+1)
		excluded[winner.Shelter.ID] = true
	}
	return nil, models.NewError(models.ErrAssignmentConflict, "request", req.ID, "capacity taken by concurrent assignments")
}

// commit increments the winner's occupancy and flips the request to assigned
// in one transaction
func (e *Engine) commit(ctx context.Context, req *models.Request, c *models.MatchCandidate) (*models.Assignment, error) {
	shelterID := c.Shelter.ID
	at := e.now().UTC()
	status := models.StatusAssigned

	occupancy, err := e.ledger.IncrementWith(ctx, shelterID, req.PeopleCount, func(tx store.Store) error {
		err := tx.UpdateRequest(ctx, req.ID, store.RequestUpdate{
			Status:            &status,
			AssignedShelterID: &shelterID,
			AssignedAt:        &at,
			ExpectStatus:      models.StatusPending,
		})
		if errors.Is(err, models.ErrStaleWrite) {
			return models.NewError(models.ErrInvalidState, "request", req.ID, "no longer pending")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	assignment := &models.Assignment{
		RequestID:      req.ID,
		ShelterID:      shelterID,
		ShelterName:    c.Shelter.Name,
		DistanceMeters: c.DistanceMeters,
		ETAMinutes:     c.ETAMinutes,
		CombinedScore:  c.CombinedScore,
		MatchReason:    c.MatchReason,
		AssignedAt:     at,
	}

	ev := events.New(events.TypeRequestAssigned, fmt.Sprintf("%s placed at %s", req.RequesterName, c.Shelter.Name))
	ev.RequestID = req.ID
	ev.ShelterID = shelterID
	ev.Data = map[string]any{
		"people":          req.PeopleCount,
		"score":           c.CombinedScore,
		"distance_meters": c.DistanceMeters,
		"eta_minutes":     c.ETAMinutes,
		"urgency":         string(req.Urgency),
	}
	e.emit(ctx, ev)
	if c.Shelter.Capacity > 0 {
		e.metrics.SetOccupancyRate(shelterID, float64(occupancy)/float64(c.Shelter.Capacity))
	}
	return assignment, nil
}

// ProcessPendingBatch matches every pending request, most urgent first then
// oldest first. A failed request is recorded and the batch continues.
func (e *Engine) ProcessPendingBatch(ctx context.Context) ([]models.AssignmentResult, error) {
	pending, err := e.store.ListPendingRequests(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.AssignmentResult, 0, len(pending))
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := models.AssignmentResult{RequestID: req.ID}
		assignment, err := e.FindBestMatch(ctx, req.ID)
		if err != nil {
			res.Error = err.Error()
			res.ErrorCode = models.ErrorCode(err)
		} else {
			res.Assignment = assignment
		}
		results = append(results, res)
	}

	e.logger.Info("pending batch processed", "requests", len(results), "assigned", countAssigned(results))
	return results, nil
}

func (e *Engine) reportUnmatched(ctx context.Context, requestID string, err error) {
	switch {
	case errors.Is(err, models.ErrNoEligibleShelter), errors.Is(err, models.ErrAssignmentConflict):
	default:
		e.logger.Warn("match failed", "request_id", requestID, "error", err)
		return
	}

	ev := events.New(events.TypeRequestUnmatched, err.Error())
	ev.RequestID = requestID
	ev.Data = map[string]any{"code": models.ErrorCode(err)}
	var perr *models.PlacementError
	if errors.As(err, &perr) && perr.Filter != nil {
		ev.Data["dominant_filter"] = perr.Filter.Dominant()
		ev.Data["considered"] = perr.Filter.Considered
	}
	e.emit(ctx, ev)
	e.logger.Warn("request unmatched", "request_id", requestID, "error", err)
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if err := e.events.Emit(ctx, ev); err != nil {
		e.logger.Error("emit event", "type", ev.Type, "error", err)
	}
}

func countAssigned(results []models.AssignmentResult) int {
	n := 0
	for _, r := range results {
		if r.Assignment != nil {
			n++
		}
	}
	return n
}
