package matching

import (
	"context"
	"testing"

	"github.com/arnavshah/shelter-api-go/internal/testutil"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancel_AssignedReleasesPlaces(t *testing.T) {
	f := newFixture(t, testutil.ShelterAt("a", 10, 5, 1))
	req := f.request(t, testutil.PendingRequest("r1", 3, models.UrgencyMedium))
	ctx := context.Background()

	_, err := f.engine.FindBestMatch(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, 8, testutil.Occupancy(t, f.store, "a"))

	got, err := f.engine.Cancel(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, 5, testutil.Occupancy(t, f.store, "a"))

	stored, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Nil(t, stored.AssignedShelterID)

	cancelled := f.events.OfType(events.TypeRequestCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "a", cancelled[0].ShelterID)
}

func TestCancel_PendingLeavesOccupancyAlone(t *testing.T) {
	f := newFixture(t, testutil.ShelterAt("a", 10, 5, 1))
	req := f.request(t, testutil.PendingRequest("r1", 3, models.UrgencyMedium))

	_, err := f.engine.Cancel(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, testutil.Occupancy(t, f.store, "a"))

	_, err = f.engine.Cancel(context.Background(), req.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = f.engine.FindBestMatch(context.Background(), req.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCompleteAndResolve(t *testing.T) {
	f := newFixture(t, testutil.ShelterAt("a", 10, 0, 1))
	ctx := context.Background()
	f.request(t, testutil.PendingRequest("r1", 2, models.UrgencyMedium))
	f.request(t, testutil.PendingRequest("r2", 1, models.UrgencyMedium))

	_, err := f.engine.Complete(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrInvalidState, "pending requests cannot complete")

	_, err = f.engine.ProcessPendingBatch(ctx)
	require.NoError(t, err)

	done, err := f.engine.Complete(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	resolved, err := f.engine.Resolve(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)

	assert.Equal(t, 3, testutil.Occupancy(t, f.store, "a"))
	assert.Len(t, f.events.OfType(events.TypeRequestCompleted), 1)
	assert.Len(t, f.events.OfType(events.TypeRequestResolved), 1)

	_, err = f.engine.Cancel(ctx, "r1")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.engine.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
