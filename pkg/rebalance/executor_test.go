package rebalance

import (
	"context"
	"testing"
	"time"

	"github.com/arnavshah/shelter-api-go/internal/testutil"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/ledger"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seatFamily(t *testing.T, s store.Store, shelterID, id string, people int, at time.Time) {
	t.Helper()
	sid := shelterID
	testutil.CreateRequests(t, s, &models.Request{
		ID:                id,
		RequesterName:     "Family " + id,
		PeopleCount:       people,
		Latitude:          testutil.Origin.Latitude,
		Longitude:         testutil.Origin.Longitude,
		Urgency:           models.UrgencyMedium,
		Status:            models.StatusAssigned,
		AssignedShelterID: &sid,
		AssignedAt:        &at,
	})
}

func assignedTo(t *testing.T, s store.Store, requestID string) string {
	t.Helper()
	req, err := s.GetRequest(context.Background(), requestID)
	require.NoError(t, err)
	require.NotNil(t, req.AssignedShelterID)
	return *req.AssignedShelterID
}

func TestPlanThenExecute(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 18, 0),
		testutil.ShelterAt("y", 20, 4, 3),
	)
	testutil.SeatRequests(t, s, "x", 18, seatedAt)
	testutil.SeatRequests(t, s, "y", 4, seatedAt)
	rec := events.NewRecorder()
	ctx := context.Background()

	plan, err := NewPlanner(s, DefaultPlannerConfig()).Plan(ctx, 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Suggestions, 1)

	results := NewExecutor(s, ledger.New(s), WithEvents(rec)).Execute(ctx, plan.Suggestions)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, models.ExecutionApplied, res.Status)
	assert.Equal(t, 3, res.RequestedPeople)
	assert.Equal(t, 3, res.MovedPeople)
	assert.Equal(t, 3, res.MovedRequests)
	assert.Empty(t, res.Error)

	assert.Equal(t, 15, testutil.Occupancy(t, s, "x"))
	assert.Equal(t, 7, testutil.Occupancy(t, s, "y"))

	moved := 0
	for _, id := range []string{"x-seat-00", "x-seat-01", "x-seat-02"} {
		if assignedTo(t, s, id) == "y" {
			moved++
		}
	}
	assert.Equal(t, 3, moved, "the oldest assignments move first")
	assert.Equal(t, "x", assignedTo(t, s, "x-seat-03"))

	onY, err := s.ListRequestsByShelter(ctx, "y")
	require.NoError(t, err)
	assert.Len(t, onY, 7)

	transfers := rec.OfType(events.TypeRebalanceTransfer)
	assert.Len(t, transfers, 3)

	again, err := NewPlanner(s, DefaultPlannerConfig()).Plan(ctx, 0.8)
	require.NoError(t, err)
	assert.Empty(t, again.Suggestions)
}

func TestExecute_ReplanNeverProposesImpossibleMoves(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("a", 30, 30, 0),
		testutil.ShelterAt("b", 20, 19, 1),
		testutil.ShelterAt("c", 10, 4, 2),
		testutil.ShelterAt("d", 12, 1, 4),
	)
	testutil.SeatRequests(t, s, "a", 30, seatedAt)
	testutil.SeatRequests(t, s, "b", 19, seatedAt)
	testutil.SeatRequests(t, s, "c", 4, seatedAt)
	testutil.SeatRequests(t, s, "d", 1, seatedAt)
	ctx := context.Background()
	planner := NewPlanner(s, DefaultPlannerConfig())
	executor := NewExecutor(s, ledger.New(s))

	for round := 0; round < 4; round++ {
		plan, err := planner.Plan(ctx, 0.8)
		require.NoError(t, err)

		shelters, err := s.ListShelters(ctx, store.ShelterFilter{})
		require.NoError(t, err)
		room := map[string]int{}
		for _, sh := range shelters {
			room[sh.ID] = sh.AvailableCapacity()
		}
		for _, sg := range plan.Suggestions {
			require.LessOrEqual(t, sg.MoveCount, room[sg.TargetID], "round %d", round)
			room[sg.TargetID] -= sg.MoveCount
		}

		executor.Execute(ctx, plan.Suggestions)
		for _, sh := range shelters {
			occ := testutil.Occupancy(t, s, sh.ID)
			require.GreaterOrEqual(t, occ, 0)
			require.LessOrEqual(t, occ, sh.Capacity)
		}
	}

	total := 0
	for _, id := range []string{"a", "b", "c", "d"} {
		total += testutil.Occupancy(t, s, id)
	}
	assert.Equal(t, 54, total, "rebalancing conserves people")
}

func TestExecute_SkipsFamiliesThatDoNotFit(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("src", 20, 7, 0),
		testutil.ShelterAt("dst", 20, 0, 1),
	)
	seatFamily(t, s, "src", "big", 4, seatedAt)
	seatFamily(t, s, "src", "one", 1, seatedAt.Add(time.Minute))
	seatFamily(t, s, "src", "two", 2, seatedAt.Add(2*time.Minute))

	res := NewExecutor(s, ledger.New(s)).Execute(context.Background(), []models.RebalanceSuggestion{
		{SourceID: "src", TargetID: "dst", MoveCount: 3},
	})[0]

	assert.Equal(t, models.ExecutionApplied, res.Status)
	assert.Equal(t, 3, res.MovedPeople)
	assert.Equal(t, 2, res.MovedRequests)
	assert.Equal(t, "src", assignedTo(t, s, "big"), "families are never split")
	assert.Equal(t, "dst", assignedTo(t, s, "one"))
	assert.Equal(t, "dst", assignedTo(t, s, "two"))
	assert.Equal(t, 4, testutil.Occupancy(t, s, "src"))
	assert.Equal(t, 3, testutil.Occupancy(t, s, "dst"))
}

func TestExecute_PartialWhenFamiliesCannotFillTheBudget(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("src", 10, 4, 0),
		testutil.ShelterAt("dst", 10, 0, 1),
	)
	seatFamily(t, s, "src", "f1", 2, seatedAt)
	seatFamily(t, s, "src", "f2", 2, seatedAt.Add(time.Minute))

	res := NewExecutor(s, ledger.New(s)).Execute(context.Background(), []models.RebalanceSuggestion{
		{SourceID: "src", TargetID: "dst", MoveCount: 3},
	})[0]

	assert.Equal(t, models.ExecutionPartial, res.Status)
	assert.Equal(t, 2, res.MovedPeople)
	assert.Equal(t, 2, testutil.Occupancy(t, s, "src"))
	assert.Equal(t, 2, testutil.Occupancy(t, s, "dst"))
}

func TestExecute_RevalidatesEachSuggestionIndependently(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 18, 0),
		testutil.ShelterAt("y", 20, 4, 3),
		testutil.ShelterAt("low", 20, 1, 1),
		testutil.ShelterAt("full", 5, 4, 2),
	)
	testutil.SeatRequests(t, s, "x", 18, seatedAt)
	rec := events.NewRecorder()

	results := NewExecutor(s, ledger.New(s), WithEvents(rec)).Execute(context.Background(), []models.RebalanceSuggestion{
		{SourceID: "missing", TargetID: "y", MoveCount: 2},
		{SourceID: "low", TargetID: "y", MoveCount: 3},
		{SourceID: "x", TargetID: "full", MoveCount: 3},
		{SourceID: "x", TargetID: "x", MoveCount: 1},
		{SourceID: "x", TargetID: "y", MoveCount: 0},
		{SourceID: "x", TargetID: "y", MoveCount: 3},
	})
	require.Len(t, results, 6)

	assert.Equal(t, "not_found", results[0].ErrorCode)
	assert.Equal(t, "insufficient_occupancy", results[1].ErrorCode)
	assert.Equal(t, "insufficient_capacity", results[2].ErrorCode)
	assert.Equal(t, "invalid_argument", results[3].ErrorCode)
	assert.Equal(t, "invalid_argument", results[4].ErrorCode)
	for _, r := range results[:5] {
		assert.Equal(t, models.ExecutionFailed, r.Status)
		assert.Zero(t, r.MovedPeople)
	}
	assert.Equal(t, models.ExecutionApplied, results[5].Status)

	assert.Equal(t, 15, testutil.Occupancy(t, s, "x"))
	assert.Equal(t, 7, testutil.Occupancy(t, s, "y"))
	assert.Equal(t, 4, testutil.Occupancy(t, s, "full"))
	assert.Len(t, rec.OfType(events.TypeRebalanceFailed), 5)
}

func TestExecute_FailsWhenNoRequestCanMove(t *testing.T) {
	s := testutil.NewStore(t)
	// occupancy without any assigned request rows behind it
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 18, 0),
		testutil.ShelterAt("y", 20, 0, 1),
	)

	res := NewExecutor(s, ledger.New(s)).Execute(context.Background(), []models.RebalanceSuggestion{
		{SourceID: "x", TargetID: "y", MoveCount: 3},
	})[0]
	assert.Equal(t, models.ExecutionFailed, res.Status)
	assert.Equal(t, "insufficient_occupancy", res.ErrorCode)
	assert.Equal(t, 18, testutil.Occupancy(t, s, "x"))
}

func TestExecute_StopsOnCancelledContext(t *testing.T) {
	s := testutil.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewExecutor(s, ledger.New(s)).Execute(ctx, []models.RebalanceSuggestion{
		{SourceID: "x", TargetID: "y", MoveCount: 1},
	})
	require.Len(t, results, 1)
	assert.Equal(t, models.ExecutionFailed, results[0].Status)
	assert.Equal(t, "internal", results[0].ErrorCode)
}
