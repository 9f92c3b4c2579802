package rebalance

import (
	"context"
	"testing"

	"github.com/arnavshah/shelter-api-go/internal/testutil"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_MovesExcessToNearestUnderloaded(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 18, 0),
		testutil.ShelterAt("y", 20, 4, 3),
		testutil.ShelterAt("z", 20, 2, 9),
	)
	rec := events.NewRecorder()

	plan, err := NewPlanner(s, DefaultPlannerConfig(), WithEvents(rec)).Plan(context.Background(), 0.8)
	require.NoError(t, err)

	require.Len(t, plan.Overloaded, 1)
	assert.Equal(t, "x", plan.Overloaded[0].ShelterID)
	assert.Equal(t, 3, plan.Overloaded[0].Excess)
	assert.Len(t, plan.Underloaded, 2)

	require.Len(t, plan.Suggestions, 1)
	sg := plan.Suggestions[0]
	assert.Equal(t, "x", sg.SourceID)
	assert.Equal(t, "y", sg.TargetID)
	assert.Equal(t, 3, sg.MoveCount)
	assert.Equal(t, models.PriorityMedium, sg.Priority)
	assert.InDelta(t, 3000, sg.DistanceMeters, 1)
	assert.NotEmpty(t, sg.Reason)

	alerts := rec.OfType(events.TypeShelterOverloaded)
	require.Len(t, alerts, 1)
	assert.Equal(t, "x", alerts[0].ShelterID)
	assert.Len(t, rec.OfType(events.TypeRebalancePlanned), 1)
}

func TestPlan_ThresholdIsStrict(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("at", 10, 8, 0),
		testutil.ShelterAt("above", 10, 9, 1),
		testutil.ShelterAt("empty", 10, 0, 2),
	)

	plan, err := NewPlanner(s, DefaultPlannerConfig()).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Overloaded, 1)
	assert.Equal(t, "above", plan.Overloaded[0].ShelterID)
}

func TestPlan_DefaultThresholdAndValidation(t *testing.T) {
	s := testutil.NewStore(t)
	p := NewPlanner(s, PlannerConfig{})
	assert.Equal(t, DefaultPlannerConfig(), p.Config())

	plan, err := p.Plan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.8, plan.Threshold)
	assert.Empty(t, plan.Suggestions)
	assert.NotNil(t, plan.Suggestions)

	_, err = p.Plan(context.Background(), 1.5)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = p.Plan(context.Background(), -0.1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestPlan_CapsMovesAndRaisesPriority(t *testing.T) {
	s := testutil.NewStore(t)
	// excess = 98 - 75 = 23
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("big", 100, 98, 0),
		testutil.ShelterAt("small", 10, 1, 2),
	)

	plan, err := NewPlanner(s, DefaultPlannerConfig()).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, 5, plan.Suggestions[0].MoveCount)
	assert.Equal(t, models.PriorityHigh, plan.Suggestions[0].Priority)
}

func TestPlan_SkipsTargetsWithoutRoomForTheBatch(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 19, 0),  // excess 4
		testutil.ShelterAt("tiny", 6, 2, 1), // 33%, only 4 free
		testutil.ShelterAt("roomy", 20, 0, 6),
	)

	plan, err := NewPlanner(s, PlannerConfig{MoveCap: 5}).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, "tiny", plan.Suggestions[0].TargetID, "4 free is enough for min(5, 4)")

	s2 := testutil.NewStore(t)
	testutil.CreateShelters(t, s2,
		testutil.ShelterAt("x", 20, 20, 0), // excess 5
		testutil.ShelterAt("tiny", 6, 2, 1),
		testutil.ShelterAt("roomy", 20, 0, 6),
	)
	plan, err = NewPlanner(s2, DefaultPlannerConfig()).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Suggestions, 1)
	assert.Equal(t, "roomy", plan.Suggestions[0].TargetID)
}

func TestPlan_SharedTargetHeadroomIsConsumed(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("a", 20, 20, 0), // excess 5
		testutil.ShelterAt("b", 20, 19, 1), // excess 4
		testutil.ShelterAt("t", 20, 9, 2),  // 45%, 11 free
	)

	plan, err := NewPlanner(s, DefaultPlannerConfig()).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	require.Len(t, plan.Suggestions, 2)
	assert.Equal(t, "a", plan.Suggestions[0].SourceID, "busiest shelter goes first")
	assert.Equal(t, 5, plan.Suggestions[0].MoveCount)
	assert.Equal(t, "b", plan.Suggestions[1].SourceID)
	assert.Equal(t, 4, plan.Suggestions[1].MoveCount)

	total := 0
	for _, sg := range plan.Suggestions {
		if sg.TargetID == "t" {
			total += sg.MoveCount
		}
	}
	assert.LessOrEqual(t, total, 11)
}

func TestPlan_NoUnderloadedShelter(t *testing.T) {
	s := testutil.NewStore(t)
	testutil.CreateShelters(t, s,
		testutil.ShelterAt("x", 20, 19, 0),
		testutil.ShelterAt("y", 20, 12, 1),
	)

	plan, err := NewPlanner(s, DefaultPlannerConfig()).Plan(context.Background(), 0.8)
	require.NoError(t, err)
	assert.Len(t, plan.Overloaded, 1)
	assert.Empty(t, plan.Underloaded)
	assert.Empty(t, plan.Suggestions)
}
