package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/berthplan/shared/events"
)

func newEvent(t *testing.T, vesselID int64) *events.BaseEvent {
	evt, err := events.NewEvent(events.TypeScheduleChanged, 1, "Schedule", events.ScheduleChangedData{
		ScheduleID: 1, VesselID: vesselID, BerthID: 1, Action: "created", Eta: "2025-01-01T00:00:00Z", Etd: "2025-01-01T04:00:00Z", Status: "Scheduled",
	}, events.Metadata{Source: "test"})
	require.NoError(t, err)
	return evt
}

func TestSubscribeAndPublishDeliversWithinRoom(t *testing.T) {
	t.Run("an event published to a room is delivered to that room's subscriber", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("vessel:1")
		bus.Publish("vessel:1", newEvent(t, 1))

		select {
		case evt := <-sub.Events:
			assert.Equal(t, events.TypeScheduleChanged, evt.Type)
		default:
			t.Fatal("expected an event on the subscriber's channel")
		}
	})
}

func TestPublishDoesNotCrossRooms(t *testing.T) {
	t.Run("a subscriber in a different room receives nothing", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("vessel:2")
		bus.Publish("vessel:1", newEvent(t, 1))

		select {
		case <-sub.Events:
			t.Fatal("subscriber in an unrelated room must not receive the event")
		default:
		}
	})
}

func TestUnsubscribeClosesDone(t *testing.T) {
	t.Run("unsubscribe closes the subscription's Done channel", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("vessel:1")
		bus.Unsubscribe("vessel:1", sub.ID)

		select {
		case <-sub.Done:
		default:
			t.Fatal("expected Done to be closed after Unsubscribe")
		}
	})
}

func TestPublishDropsOldestAndMarksLagWhenFull(t *testing.T) {
	t.Run("a full subscriber queue drops its oldest event and inserts a Lag marker", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("vessel:1")

		for i := 0; i < QueueDepth; i++ {
			bus.Publish("vessel:1", newEvent(t, 1))
		}
		bus.Publish("vessel:1", newEvent(t, 1)) // overflow by one

		var sawLag bool
		for len(sub.Events) > 0 {
			evt := <-sub.Events
			if evt.Type == events.TypeLag {
				sawLag = true
			}
		}
		assert.True(t, sawLag, "an overflowing publish must deliver a Lag marker")
	})
}

func TestAdapterPublishDerivesVesselRoom(t *testing.T) {
	t.Run("the Notifier adapter routes an event with a vessel_id payload to that vessel's room", func(t *testing.T) {
		bus := New()
		sub := bus.Subscribe("vessel:7")
		adapter := NewAdapter(bus, 1)

		err := adapter.Publish(context.Background(), newEvent(t, 7))
		require.NoError(t, err)

		select {
		case <-sub.Events:
		default:
			t.Fatal("expected the adapter to deliver to vessel:7")
		}
	})
}
