package rebalance

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/ledger"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
)

// Executor applies rebalance suggestions one request at a time
type Executor struct {
	deps
	store  store.Store
	ledger *ledger.Ledger
}

// NewExecutor creates an Executor
func NewExecutor(s store.Store, l *ledger.Ledger, opts ...Option) *Executor {
	return &Executor{deps: newDeps(opts), store: s, ledger: l}
}

// Execute applies each suggestion independently and reports what moved.
//
// MoveCount is a number of people. Assigned requests at the source are moved
// oldest assignment first, each in its own transaction together with its
// occupancy transfer. A family larger than the remaining budget is skipped
// rather than split, so a suggestion can end partial.
func (x *Executor) Execute(ctx context.Context, suggestions []models.RebalanceSuggestion) []models.ExecutionResult {
	results := make([]models.ExecutionResult, 0, len(suggestions))
	for _, s := range suggestions {
		var res models.ExecutionResult
		if err := ctx.Err(); err != nil {
			res = failed(s, err)
		} else {
			res = x.apply(ctx, s)
		}
		if res.Status == models.ExecutionFailed {
			x.reportFailure(ctx, res)
		}
		results = append(results, res)
	}
	return results
}

func (x *Executor) apply(ctx context.Context, s models.RebalanceSuggestion) models.ExecutionResult {
	if s.MoveCount <= 0 {
		return failed(s, models.NewError(models.ErrInvalidArgument, "shelter", s.SourceID, "move count must be positive"))
	}
	if s.SourceID == s.TargetID {
		return failed(s, models.NewError(models.ErrInvalidArgument, "shelter", s.SourceID, "source and target are the same"))
	}

	// The plan may be stale; check against the current state
	src, err := x.store.GetShelter(ctx, s.SourceID)
	if err != nil {
		return failed(s, err)
	}
	dst, err := x.store.GetShelter(ctx, s.TargetID)
	if err != nil {
		return failed(s, err)
	}
	if src.Occupancy < s.MoveCount {
		return failed(s, models.NewError(models.ErrInsufficientOccupancy, "shelter", src.ID,
			fmt.Sprintf("occupancy %d, asked to move %d", src.Occupancy, s.MoveCount)))
	}
	if dst.AvailableCapacity() < s.MoveCount {
		return failed(s, models.NewError(models.ErrInsufficientCapacity, "shelter", dst.ID,
			fmt.Sprintf("%d available, asked to take %d", dst.AvailableCapacity(), s.MoveCount)))
	}

	assigned, err := x.store.ListRequestsByShelter(ctx, src.ID)
	if err != nil {
		return failed(s, err)
	}

	res := models.ExecutionResult{Suggestion: s, RequestedPeople: s.MoveCount}
	budget := s.MoveCount
	var lastErr error
	for _, req := range assigned {
		if budget == 0 {
			break
		}
		if req.Status != models.StatusAssigned || req.PeopleCount <= 0 || req.PeopleCount > budget {
			continue
		}

		sub := models.ReassignmentResult{RequestID: req.ID, PeopleCount: req.PeopleCount}
		if err := x.move(ctx, &req, src.ID, dst.ID); err != nil {
			sub.Error = err.Error()
			lastErr = err
			x.metrics.RecordTransfer(false, req.PeopleCount)
			x.logger.Warn("reassignment failed", "request_id", req.ID, "from", src.ID, "to", dst.ID, "error", err)
		} else {
			sub.Moved = true
			budget -= req.PeopleCount
			res.MovedPeople += req.PeopleCount
			res.MovedRequests++
			x.metrics.RecordTransfer(true, req.PeopleCount)
			x.transferred(ctx, &req, src, dst)
		}
		res.Reassignments = append(res.Reassignments, sub)
	}

	switch {
	case res.MovedPeople == res.RequestedPeople:
		res.Status = models.ExecutionApplied
	case res.MovedPeople > 0:
		res.Status = models.ExecutionPartial
	default:
		res.Status = models.ExecutionFailed
		if lastErr == nil {
			lastErr = models.NewError(models.ErrInsufficientOccupancy, "shelter", src.ID, "no assigned request fits the move")
		}
	}
	if res.Status != models.ExecutionApplied && lastErr != nil {
		res.Error = lastErr.Error()
		res.ErrorCode = models.ErrorCode(lastErr)
	}

	x.logger.Info("rebalance suggestion executed",
		"source_id", src.ID,
		"target_id", dst.ID,
		"status", res.Status,
		"requested", res.RequestedPeople,
		"moved", res.MovedPeople,
	)
	return res
}

// move transfers one request's people and re-points the request in the same
// transaction. The request must still be assigned to the source.
func (x *Executor) move(ctx context.Context, req *models.Request, fromID, toID string) error {
	target := toID
	at := x.now().UTC()
	err := x.ledger.TransferWith(ctx, fromID, toID, req.PeopleCount, func(tx store.Store) error {
		return tx.UpdateRequest(ctx, req.ID, store.RequestUpdate{
			AssignedShelterID: &target,
			AssignedAt:        &at,
			ExpectStatus:      models.StatusAssigned,
			ExpectShelterID:   fromID,
		})
	})
	if errors.Is(err, models.ErrStaleWrite) {
		return models.NewError(models.ErrInvalidState, "request", req.ID, "no longer assigned to the source")
	}
	return err
}

func (x *Executor) transferred(ctx context.Context, req *models.Request, src, dst *models.Shelter) {
	ev := events.New(events.TypeRebalanceTransfer,
		fmt.Sprintf("%s moved from %s to %s", req.RequesterName, src.Name, dst.Name))
	ev.RequestID = req.ID
	ev.ShelterID = dst.ID
	ev.Data = map[string]any{"people": req.PeopleCount, "from": src.ID, "to": dst.ID}
	x.emit(ctx, ev)
}

func (x *Executor) reportFailure(ctx context.Context, res models.ExecutionResult) {
	ev := events.New(events.TypeRebalanceFailed,
		fmt.Sprintf("transfer %s -> %s failed: %s", res.Suggestion.SourceID, res.Suggestion.TargetID, res.Error))
	ev.ShelterID = res.Suggestion.SourceID
	ev.Data = map[string]any{"target": res.Suggestion.TargetID, "code": res.ErrorCode, "move_count": res.Suggestion.MoveCount}
	x.emit(ctx, ev)
}

func failed(s models.RebalanceSuggestion, err error) models.ExecutionResult {
	return models.ExecutionResult{
		Suggestion:      s,
		Status:          models.ExecutionFailed,
		RequestedPeople: s.MoveCount,
		Error:           err.Error(),
		ErrorCode:       models.ErrorCode(err),
	}
}
