package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arnavshah/shelter-api-go/internal/testutil"
	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateShelter_Validation(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		shelter *models.Shelter
		want    error
	}{
		{"zero capacity", testutil.ShelterAt("a", 0, 0, 1), models.ErrInvalidArgument},
		{"negative occupancy", testutil.ShelterAt("b", 5, -1, 1), models.ErrInvalidArgument},
		{"over capacity", testutil.ShelterAt("c", 5, 6, 1), models.ErrInvalidArgument},
		{"bad latitude", &models.Shelter{ID: "d", Name: "D", Capacity: 5, Latitude: 95}, models.ErrInvalidCoordinate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateShelter(ctx, tt.shelter)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	sh := &models.Shelter{Name: "Generated", Capacity: 3, Latitude: 1, Longitude: 1}
	require.NoError(t, s.CreateShelter(ctx, sh))
	assert.NotEmpty(t, sh.ID)
}

func TestGetShelter_NotFound(t *testing.T) {
	s := testutil.NewStore(t)

	_, err := s.GetShelter(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrNotFound)

	var perr *models.PlacementError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "shelter", perr.Entity)
	assert.Equal(t, "nope", perr.ID)
}

func TestListShelters_Filters(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("near-full", 10, 9, 1),
		testutil.ShelterAt("near-open", 10, 2, 2),
		testutil.ShelterAt("far-open", 10, 0, 80),
	)

	all, err := s.ListShelters(ctx, store.ShelterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "far-open", all[0].ID, "ordered by id")

	open, err := s.ListShelters(ctx, store.ShelterFilter{MinAvailable: 5})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	b, err := geo.BoundsAround(testutil.Origin.Coordinate(), 10_000)
	require.NoError(t, err)
	near, err := s.ListShelters(ctx, store.ShelterFilter{Bounds: &b, MinAvailable: 5})
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "near-open", near[0].ID)

	byID, err := s.ListShelters(ctx, store.ShelterFilter{IDs: []string{"near-full", "missing"}})
	require.NoError(t, err)
	require.Len(t, byID, 1)
}

func TestUpdateOccupancy_CompareAndSet(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	testutil.CreateShelters(t, s, testutil.ShelterAt("a", 10, 4, 1))

	require.NoError(t, s.UpdateOccupancy(ctx, "a", 4, 6))
	assert.Equal(t, 6, testutil.Occupancy(t, s, "a"))

	err := s.UpdateOccupancy(ctx, "a", 4, 7)
	assert.ErrorIs(t, err, models.ErrStaleWrite)
	assert.Equal(t, 6, testutil.Occupancy(t, s, "a"))

	err = s.UpdateOccupancy(ctx, "missing", 0, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateRequest_Defaults(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	req := &models.Request{RequesterName: "Lee", PeopleCount: 3, Latitude: 10, Longitude: 10}
	require.NoError(t, s.CreateRequest(ctx, req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, models.UrgencyMedium, req.Urgency)

	err := s.CreateRequest(ctx, &models.Request{RequesterName: "x", PeopleCount: 0})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = s.CreateRequest(ctx, &models.Request{RequesterName: "x", PeopleCount: 1, Urgency: "critical"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = s.CreateRequest(ctx, &models.Request{RequesterName: "x", PeopleCount: 1, Longitude: 200})
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)
}

func TestUpdateRequest_Guards(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	testutil.CreateRequests(t, s, testutil.PendingRequest("r1", 2, models.UrgencyHigh))

	assigned := models.StatusAssigned
	shelterID := "a"
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateRequest(ctx, "r1", store.RequestUpdate{
		Status:            &assigned,
		AssignedShelterID: &shelterID,
		AssignedAt:        &at,
		ExpectStatus:      models.StatusPending,
	}))

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, got.Status)
	require.NotNil(t, got.AssignedShelterID)
	assert.Equal(t, "a", *got.AssignedShelterID)

	err = s.UpdateRequest(ctx, "r1", store.RequestUpdate{Status: &assigned, ExpectStatus: models.StatusPending})
	assert.ErrorIs(t, err, models.ErrStaleWrite)

	cancelled := models.StatusCancelled
	err = s.UpdateRequest(ctx, "r1", store.RequestUpdate{Status: &cancelled, ExpectShelterID: "b"})
	assert.ErrorIs(t, err, models.ErrStaleWrite)

	require.NoError(t, s.UpdateRequest(ctx, "r1", store.RequestUpdate{
		Status:          &cancelled,
		ClearAssignment: true,
		ExpectStatus:    models.StatusAssigned,
		ExpectShelterID: "a",
	}))
	got, err = s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.AssignedShelterID)
	assert.Nil(t, got.AssignedAt)

	err = s.UpdateRequest(ctx, "missing", store.RequestUpdate{Status: &cancelled})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.NoError(t, s.UpdateRequest(ctx, "r1", store.RequestUpdate{}), "empty update is a no-op")
}

func TestListPendingRequests_Order(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	reqs := []*models.Request{
		testutil.PendingRequest("low", 1, models.UrgencyLow),
		testutil.PendingRequest("med-new", 1, models.UrgencyMedium),
		testutil.PendingRequest("med-old", 1, models.UrgencyMedium),
		testutil.PendingRequest("high", 1, models.UrgencyHigh),
	}
	reqs[1].CreatedAt = base.Add(time.Hour)
	reqs[2].CreatedAt = base
	reqs[0].CreatedAt = base
	reqs[3].CreatedAt = base.Add(2 * time.Hour)
	testutil.CreateRequests(t, s, reqs...)
	testutil.SeatRequests(t, s, "a", 1, base)

	pending, err := s.ListPendingRequests(ctx)
	require.NoError(t, err)
	ids := make([]string, len(pending))
	for i, r := range pending {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"high", "med-old", "med-new", "low"}, ids)
}

func TestListRequestsByShelter_OldestFirst(t *testing.T) {
	s := testutil.NewStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testutil.SeatRequests(t, s, "a", 3, base)
	testutil.SeatRequests(t, s, "b", 1, base)

	reqs, err := s.ListRequestsByShelter(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, "a-seat-00", reqs[0].ID)
	assert.Equal(t, "a-seat-02", reqs[2].ID)
}

func TestInTx_RollsBack(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	testutil.CreateShelters(t, s, testutil.ShelterAt("a", 10, 4, 1))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateOccupancy(ctx, "a", 4, 9); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, testutil.Occupancy(t, s, "a"))

	require.NoError(t, s.InTx(ctx, func(tx store.Store) error {
		return tx.UpdateOccupancy(ctx, "a", 4, 5)
	}))
	assert.Equal(t, 5, testutil.Occupancy(t, s, "a"))
}
