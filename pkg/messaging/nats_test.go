package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestNotifier_PublishesBySubject(t *testing.T) {
	nc := startNATS(t)
	n := NewNotifier(nc, "test.events")

	sub, err := nc.SubscribeSync("test.events.request.assigned")
	require.NoError(t, err)

	e := events.New(events.TypeRequestAssigned, "placed")
	e.RequestID = "r1"
	require.NoError(t, n.Emit(context.Background(), e))
	require.NoError(t, n.Flush(time.Second))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "r1", got.RequestID)
}

func TestNotifier_AlertsGoToAlertSubject(t *testing.T) {
	nc := startNATS(t)
	n := NewNotifier(nc, "")

	alerts, err := nc.SubscribeSync(n.AlertSubject())
	require.NoError(t, err)

	require.NoError(t, n.Emit(context.Background(), events.New(events.TypeRequestAssigned, "not an alert")))
	require.NoError(t, n.Emit(context.Background(), events.New(events.TypeShelterOverloaded, "over threshold")))
	require.NoError(t, n.Flush(time.Second))

	msg, err := alerts.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), events.TypeShelterOverloaded)

	_, err = alerts.NextMsg(100 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestSubjectPrefix(t *testing.T) {
	assert.Equal(t, DefaultSubjectPrefix, subjectPrefix(" "))
	assert.Equal(t, "ops.shelters", subjectPrefix(".ops.shelters."))
}

func TestNotifier_EmitWithoutConnection(t *testing.T) {
	n := &Notifier{prefix: DefaultSubjectPrefix}
	assert.Error(t, n.Emit(context.Background(), events.New(events.TypeRequestAssigned, "x")))
}
