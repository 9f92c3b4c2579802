package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
)

// Complete marks an assigned request as completed. The family keeps its
// place, so occupancy is unchanged.
func (e *Engine) Complete(ctx context.Context, requestID string) (*models.Request, error) {
	return e.close(ctx, requestID, models.StatusCompleted, events.TypeRequestCompleted)
}

// Resolve marks an assigned request as resolved. Occupancy is unchanged.
func (e *Engine) Resolve(ctx context.Context, requestID string) (*models.Request, error) {
	return e.close(ctx, requestID, models.StatusResolved, events.TypeRequestResolved)
}

func (e *Engine) close(ctx context.Context, requestID string, to models.RequestStatus, eventType string) (*models.Request, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusAssigned {
		return nil, models.NewError(models.ErrInvalidState, "request", req.ID, fmt.Sprintf("status is %s, want assigned", req.Status))
	}

	err = e.store.UpdateRequest(ctx, req.ID, store.RequestUpdate{Status: &to, ExpectStatus: models.StatusAssigned})
	if errors.Is(err, models.ErrStaleWrite) {
		return nil, models.NewError(models.ErrInvalidState, "request", req.ID, "changed concurrently")
	}
	if err != nil {
		return nil, err
	}
	req.Status = to

	ev := events.New(eventType, fmt.Sprintf("%s marked %s", req.RequesterName, to))
	ev.RequestID = req.ID
	if req.AssignedShelterID != nil {
		ev.ShelterID = *req.AssignedShelterID
	}
	ev.Data = map[string]any{"people": req.PeopleCount}
	e.emit(ctx, ev)
	return req, nil
}

// Cancel withdraws a pending or assigned request. An assigned request gives
// its places back to the shelter in the same transaction that cancels it.
func (e *Engine) Cancel(ctx context.Context, requestID string) (*models.Request, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	cancelled := models.StatusCancelled
	var shelterID string
	switch req.Status {
	case models.StatusPending:
		err = e.store.UpdateRequest(ctx, req.ID, store.RequestUpdate{Status: &cancelled, ExpectStatus: models.StatusPending})
	case models.StatusAssigned:
		if req.AssignedShelterID == nil {
			return nil, models.NewError(models.ErrInvalidState, "request", req.ID, "assigned without a shelter")
		}
		shelterID = *req.AssignedShelterID
		_, err = e.ledger.DecrementWith(ctx, shelterID, req.PeopleCount, func(tx store.Store) error {
			return tx.UpdateRequest(ctx, req.ID, store.RequestUpdate{
				Status:          &cancelled,
				ClearAssignment: true,
				ExpectStatus:    models.StatusAssigned,
				ExpectShelterID: shelterID,
			})
		})
	default:
		return nil, models.NewError(models.ErrInvalidState, "request", req.ID, fmt.Sprintf("cannot cancel a %s request", req.Status))
	}
	if errors.Is(err, models.ErrStaleWrite) {
		return nil, models.NewError(models.ErrInvalidState, "request", req.ID, "changed concurrently")
	}
	if err != nil {
		return nil, err
	}

	req.Status = cancelled
	req.AssignedShelterID = nil
	req.AssignedAt = nil

	ev := events.New(events.TypeRequestCancelled, fmt.Sprintf("%s cancelled", req.RequesterName))
	ev.RequestID = req.ID
	ev.ShelterID = shelterID
	ev.Data = map[string]any{"people": req.PeopleCount, "released": shelterID != ""}
	e.emit(ctx, ev)
	e.logger.Info("request cancelled", "request_id", req.ID, "shelter_id", shelterID)
	return req, nil
}
