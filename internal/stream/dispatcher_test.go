package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-tripshare/internal/trip"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcherFixture(t *testing.T, errorEvents bool) (*Dispatcher, *Hub, *trip.Service, trip.Trip) {
	t.Helper()
	hub := NewHub(WithMetrics(newRecordingMetrics()))
	svc := trip.NewService(trip.NewStore(), hub)
	created, err := svc.CreateTrip(context.Background(), "Trip", nil)
	require.NoError(t, err)
	return NewDispatcher(hub, svc, errorEvents), hub, svc, created
}

func send(t *testing.T, d *Dispatcher, client *Client, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	d.Handle(context.Background(), client, raw)
}

func TestJoinTripSendsSnapshotToJoinerOnly(t *testing.T) {
	d, hub, _, created := newDispatcherFixture(t, true)
	joiner := hub.Register()
	other := hub.Register()
	hub.Join(other, trip.TripRoom(created.ID))

	send(t, d, joiner, EventJoinTrip, map[string]string{"tripId": created.ID})

	vehicles := nextEnvelope(t, joiner)
	assert.Equal(t, trip.EventVehicles, vehicles.Event)
	assert.JSONEq(t, `[]`, string(vehicles.Data))
	schedule := nextEnvelope(t, joiner)
	assert.Equal(t, trip.EventSchedule, schedule.Event)
	assert.JSONEq(t, `[]`, string(schedule.Data))

	expectNothing(t, other)
	assert.Equal(t, []string{trip.TripRoom(created.ID)}, hub.Rooms(joiner))
}

func lastSchedule(t *testing.T, client *Client) []trip.ScheduleItem {
	t.Helper()
	var last []trip.ScheduleItem
	for {
		select {
		case msg := <-client.Send:
			var env Envelope
			require.NoError(t, json.Unmarshal(msg, &env))
			if env.Event != trip.EventSchedule {
				continue
			}
			last = nil
			require.NoError(t, json.Unmarshal(env.Data, &last))
		default:
			return last
		}
	}
}

func TestJoinTripConcurrentWithScheduleAdds(t *testing.T) {
	const joiners, adds = 8, 20
	for round := 0; round < 50; round++ {
		d, hub, svc, created := newDispatcherFixture(t, true)
		clients := make([]*Client, joiners)
		for i := range clients {
			clients[i] = hub.Register()
		}

		var wg sync.WaitGroup
		start := time.Now()
		for i := 0; i < adds; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.AddScheduleItem(context.Background(), created.ID, trip.ScheduleInput{Title: "stop", TimeStart: &start})
				assert.NoError(t, err)
			}()
		}
		for _, c := range clients {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				send(t, d, c, EventJoinTrip, map[string]string{"tripId": created.ID})
			}(c)
		}
		wg.Wait()

		for i, c := range clients {
			require.Len(t, lastSchedule(t, c), adds, "round %d client %d ended with a stale schedule", round, i)
		}
	}
}

func TestJoinTripUnknownTrip(t *testing.T) {
	d, hub, _, _ := newDispatcherFixture(t, true)
	client := hub.Register()

	send(t, d, client, EventJoinTrip, map[string]string{"tripId": "missing"})

	env := nextEnvelope(t, client)
	assert.Equal(t, EventError, env.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "not_found", payload.Code)
	assert.Equal(t, EventJoinTrip, payload.Event)
	assert.Empty(t, hub.Rooms(client))
}

func TestUnknownTripSilentWhenErrorEventsDisabled(t *testing.T) {
	d, hub, _, _ := newDispatcherFixture(t, false)
	client := hub.Register()

	send(t, d, client, EventJoinTrip, map[string]string{"tripId": "missing"})
	send(t, d, client, EventChatMessage, map[string]string{"tripId": "missing", "text": "hi"})
	d.Handle(context.Background(), client, []byte("not json"))

	expectNothing(t, client)
	assert.Empty(t, hub.Rooms(client))
}

func TestLocationUpdateBroadcastsVehicles(t *testing.T) {
	d, hub, svc, created := newDispatcherFixture(t, true)
	ctx := context.Background()
	van, err := svc.RegisterVehicle(ctx, created.ID, "Van")
	require.NoError(t, err)
	_, err = svc.RegisterVehicle(ctx, created.ID, "Bus")
	require.NoError(t, err)

	viewer := hub.Register()
	hub.Join(viewer, trip.TripRoom(created.ID))
	driver := hub.Register()

	ts := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	send(t, d, driver, EventLocationUpdate, map[string]any{
		"tripId": created.ID, "vehicleId": van.ID,
		"lat": 14.7, "lng": 101.4, "speedKmh": 60, "heading": 180, "ts": ts,
	})

	env := nextEnvelope(t, viewer)
	require.Equal(t, trip.EventVehicles, env.Event)
	var vehicles []trip.Vehicle
	require.NoError(t, json.Unmarshal(env.Data, &vehicles))
	require.Len(t, vehicles, 2)
	require.NotNil(t, vehicles[0].LastLat)
	assert.Equal(t, 14.7, *vehicles[0].LastLat)
	assert.Equal(t, ts, vehicles[0].UpdatedAt.UnixMilli())
	var wire []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &wire))
	assert.Equal(t, float64(ts), wire[0]["updated_at"])
	assert.Nil(t, wire[1]["updated_at"])
	assert.Nil(t, vehicles[1].LastLat)

	expectNothing(t, driver)
}

func TestLocationUpdateRejected(t *testing.T) {
	d, hub, _, created := newDispatcherFixture(t, true)
	viewer := hub.Register()
	hub.Join(viewer, trip.TripRoom(created.ID))
	driver := hub.Register()

	send(t, d, driver, EventLocationUpdate, map[string]any{"tripId": created.ID, "vehicleId": "ghost", "lat": 1, "lng": 1})
	env := nextEnvelope(t, driver)
	assert.Equal(t, EventError, env.Event)

	send(t, d, driver, EventLocationUpdate, map[string]any{"tripId": created.ID, "vehicleId": "ghost"})
	env = nextEnvelope(t, driver)
	assert.Contains(t, string(env.Data), "invalid_payload")

	expectNothing(t, viewer)
}

func TestChatFlow(t *testing.T) {
	d, hub, svc, created := newDispatcherFixture(t, true)
	alice := hub.Register()
	bob := hub.Register()

	send(t, d, alice, EventJoinTrip, map[string]string{"tripId": created.ID})
	nextEnvelope(t, alice)
	nextEnvelope(t, alice)

	send(t, d, alice, EventChatJoin, map[string]string{"tripId": created.ID, "name": "Alice"})
	assert.Equal(t, EventChatJoined, nextEnvelope(t, alice).Event)
	send(t, d, bob, EventChatJoin, map[string]string{"tripId": created.ID})
	assert.Equal(t, EventChatJoined, nextEnvelope(t, bob).Event)

	before := time.Now().UnixMilli()
	send(t, d, alice, EventChatMessage, map[string]string{"tripId": created.ID, "text": "hello"})
	for _, c := range []*Client{alice, bob} {
		env := nextEnvelope(t, c)
		require.Equal(t, EventChatMessage, env.Event)
		var msg struct {
			Name string `json:"name"`
			Text string `json:"text"`
			TS   int64  `json:"ts"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.Equal(t, "Alice", msg.Name)
		assert.Equal(t, "hello", msg.Text)
		assert.GreaterOrEqual(t, msg.TS, before)
		assert.LessOrEqual(t, msg.TS, time.Now().UnixMilli())
	}

	send(t, d, bob, EventChatMessage, map[string]string{"tripId": created.ID, "text": strings.Repeat("y", 1200)})
	var msg trip.ChatMessage
	require.NoError(t, json.Unmarshal(nextEnvelope(t, bob).Data, &msg))
	assert.Equal(t, trip.DefaultChatName, msg.Name)
	assert.Len(t, msg.Text, trip.ChatTextLimit)
	nextEnvelope(t, alice)

	send(t, d, alice, EventChatLeave, map[string]string{"tripId": created.ID})
	assert.Equal(t, EventChatLeft, nextEnvelope(t, alice).Event)
	assert.Equal(t, []string{trip.TripRoom(created.ID)}, hub.Rooms(alice), "trip room is kept after chatLeave")

	send(t, d, bob, EventChatMessage, map[string]string{"tripId": created.ID, "text": "anyone?"})
	nextEnvelope(t, bob)
	expectNothing(t, alice)

	got, err := svc.TripByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, got.Chat, 3)
}

func TestChatJoinUnknownTrip(t *testing.T) {
	d, hub, _, _ := newDispatcherFixture(t, true)
	client := hub.Register()

	send(t, d, client, EventChatJoin, map[string]string{"tripId": "missing", "name": "A"})
	assert.Equal(t, EventError, nextEnvelope(t, client).Event)
	assert.Empty(t, hub.Rooms(client))
}

func TestScheduleAddReachesRoom(t *testing.T) {
	d, hub, svc, created := newDispatcherFixture(t, true)
	client := hub.Register()
	send(t, d, client, EventJoinTrip, map[string]string{"tripId": created.ID})
	nextEnvelope(t, client)
	nextEnvelope(t, client)

	start := time.Now()
	_, err := svc.AddScheduleItem(context.Background(), created.ID, trip.ScheduleInput{Title: "A", TimeStart: &start})
	require.NoError(t, err)

	env := nextEnvelope(t, client)
	assert.Equal(t, trip.EventSchedule, env.Event)
	var items []trip.ScheduleItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 1)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	d, hub, _, _ := newDispatcherFixture(t, true)
	client := hub.Register()

	d.Handle(context.Background(), client, []byte("{"))
	assert.Contains(t, string(nextEnvelope(t, client).Data), "invalid_payload")

	send(t, d, client, "teleport", map[string]string{})
	assert.Contains(t, string(nextEnvelope(t, client).Data), "unknown_event")

	d.Handle(context.Background(), client, []byte(`{"event":"joinTrip"}`))
	assert.Contains(t, string(nextEnvelope(t, client).Data), "missing data")

	d.Handle(context.Background(), client, []byte(`{"event":"joinTrip","data":"x"}`))
	assert.Contains(t, string(nextEnvelope(t, client).Data), "invalid_payload")
}
