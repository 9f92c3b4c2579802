package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, Event) error { return f.err }

func TestNew(t *testing.T) {
	e := New(TypeRequestAssigned, "assigned")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeRequestAssigned, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEqual(t, e.ID, New(TypeRequestAssigned, "assigned").ID)
}

func TestAlert(t *testing.T) {
	alerts := map[string]bool{
		TypeRequestAssigned:   false,
		TypeRequestUnmatched:  true,
		TypeRequestCancelled:  false,
		TypeShelterOverloaded: true,
		TypeRebalancePlanned:  false,
		TypeRebalanceTransfer: false,
		TypeRebalanceFailed:   true,
	}
	for typ, want := range alerts {
		assert.Equal(t, want, Event{Type: typ}.Alert(), typ)
	}
}

func TestMulti_DeliversToEverySink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	boom := errors.New("boom")
	m := Multi{a, failingSink{err: boom}, nil, b}

	err := m.Emit(context.Background(), New(TypeRequestUnmatched, "no shelter"))
	require.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestRecorder_OfType(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	require.NoError(t, r.Emit(ctx, New(TypeRequestAssigned, "")))
	require.NoError(t, r.Emit(ctx, New(TypeRebalanceTransfer, "")))
	require.NoError(t, r.Emit(ctx, New(TypeRequestAssigned, "")))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(TypeRequestAssigned), 2)
	assert.Empty(t, r.OfType(TypeRebalanceFailed))

	evts := r.Events()
	evts[0].Type = "mutated"
	assert.Equal(t, TypeRequestAssigned, r.Events()[0].Type)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Emit(context.Background(), Event{}))
}
