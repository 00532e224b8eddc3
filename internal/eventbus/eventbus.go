// Package eventbus is the Event Bus & Broadcaster (spec.md §4.H): a
// process-wide in-memory publish/subscribe fan-out over bounded
// per-subscriber queues, grounded on internal/market.Feed's Subscriber type
// and its non-blocking select/default broadcastUpdate — the same shape,
// generalized from one "symbol" key to the three room kinds spec.md names
// (port/terminal/vessel) and given the Lag marker the teacher's broadcaster
// never had (its own comment admits "this can cause data loss" on a full
// channel; this package turns that silent drop into a delivered signal).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/portops/berthplan/shared/events"
)

// QueueDepth is the bound spec.md §4.H sets per subscriber.
const QueueDepth = 1024

// Subscription is a single subscriber's inbox for one room.
type Subscription struct {
	ID     uuid.UUID
	Room   string
	Events chan *events.BaseEvent
	Done   chan struct{}
}

// Bus fans events out to per-room subscribers. Ordering is guaranteed only
// within a room key (spec.md §4.H: "per berthId and per vesselId ... no
// cross-key ordering guarantee") because publishes to different rooms are
// independent and a single publisher call only enqueues into that event's
// own rooms under one lock acquisition per room.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]map[uuid.UUID]*Subscription
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{rooms: make(map[string]map[uuid.UUID]*Subscription)}
}

// Subscribe joins a room keyed "port:<code>", "terminal:<id>" or
// "vessel:<id>" per spec.md §4.H.
func (b *Bus) Subscribe(room string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		Room:   room,
		Events: make(chan *events.BaseEvent, QueueDepth),
		Done:   make(chan struct{}),
	}
	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[uuid.UUID]*Subscription)
	}
	b.rooms[room][sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channels.
func (b *Bus) Unsubscribe(room string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[room]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		close(sub.Done)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.rooms, room)
	}
}

// Publish delivers evt to every subscriber of room. A subscriber whose queue
// is full never blocks the publisher: its two oldest events are dropped and
// a synthetic Lag event followed by evt is queued behind the remaining ones,
// matching spec.md §4.H's "producer is never blocked ... bus drops oldest
// and marks Lag".
func (b *Bus) Publish(room string, evt *events.BaseEvent) {
	b.mu.RLock()
	subs := b.rooms[room]
	targets := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.Events <- evt:
		case <-sub.Done:
		default:
			b.dropOldestAndMarkLag(sub, evt)
		}
	}
}

func (b *Bus) dropOldestAndMarkLag(sub *Subscription, evt *events.BaseEvent) {
	for i := 0; i < 2; i++ { // room for both the Lag marker and evt
		select {
		case <-sub.Events: // drop the oldest queued event
		default:
		}
	}
	lag, err := events.NewEvent(events.TypeLag, 0, "Subscription", struct {
		Room string `json:"room"`
	}{Room: sub.Room}, events.Metadata{Source: "internal/eventbus"})
	if err != nil {
		return
	}
	select {
	case sub.Events <- lag:
	default:
	}
	select {
	case sub.Events <- evt:
	default:
	}
}

// PublishToRooms is the common call shape for internal/allocation and
// internal/conflict: deliver the same event to every room it belongs in
// (e.g. both "terminal:<id>" and "vessel:<id>" for a ScheduleChanged event).
func (b *Bus) PublishToRooms(rooms []string, evt *events.BaseEvent) {
	for _, room := range rooms {
		b.Publish(room, evt)
	}
}

// roomPayload decodes the subset of fields needed to derive room keys; every
// payload type in shared/events carries a compatible subset so one loose
// struct covers them all.
type roomPayload struct {
	VesselID int64 `json:"vessel_id"`
	BerthID  int64 `json:"berth_id"`
}

// Adapter satisfies the Notifier interface internal/allocation,
// internal/conflict and internal/ingestor each declare locally
// (Publish(ctx, *events.BaseEvent) error), deriving room keys from the
// event's aggregate type/id and decoded payload rather than requiring every
// publisher to know the room-naming convention itself.
type Adapter struct {
	bus      *Bus
	terminal int64 // this port's single terminal id in the common single-terminal deployment; 0 disables the terminal room
}

// NewAdapter wraps bus for a deployment with terminalID as its sole
// terminal's id (0 if multi-terminal room derivation is handled upstream).
func NewAdapter(bus *Bus, terminalID int64) *Adapter {
	return &Adapter{bus: bus, terminal: terminalID}
}

// Publish implements the Notifier interface by fanning evt out to every room
// spec.md §4.H's subscription keys it can derive: the vessel room when a
// vessel id is present (from the payload, or the aggregate id of a Vessel
// event), and the adapter's terminal room for every event when terminal is
// non-zero ("terminal:0" when no other room applies). The berth-scoped room
// is folded into the terminal room since spec.md only names
// port/terminal/vessel as subscription keys.
func (a *Adapter) Publish(ctx context.Context, evt *events.BaseEvent) error {
	var rooms []string
	var payload roomPayload
	_ = json.Unmarshal(evt.Data, &payload)

	if payload.VesselID != 0 {
		rooms = append(rooms, fmt.Sprintf("vessel:%d", payload.VesselID))
	} else if evt.AggregateType == "Vessel" {
		rooms = append(rooms, fmt.Sprintf("vessel:%d", evt.AggregateID))
	}
	if a.terminal != 0 {
		rooms = append(rooms, fmt.Sprintf("terminal:%d", a.terminal))
	}
	if len(rooms) == 0 {
		rooms = append(rooms, fmt.Sprintf("terminal:%d", a.terminal))
	}
	a.bus.PublishToRooms(rooms, evt)
	return nil
}

// publisher is the Notifier shape internal/allocation, internal/conflict
// and internal/ingestor each declare independently; any of those packages'
// concrete Service/Detector/Ingestor accepts a MultiNotifier without an
// import cycle since the method set, not the name, is what satisfies them.
type publisher interface {
	Publish(ctx context.Context, evt *events.BaseEvent) error
}

// MultiNotifier fans a single Publish call out to every wrapped publisher —
// typically the local Adapter (so this process's own websocket clients see
// the event immediately) plus a pkg/messaging.EventPublisher (so other
// daemon instances' gateways see it too). The first error is returned but
// every publisher still gets called.
type MultiNotifier struct {
	targets []publisher
}

// NewMultiNotifier fans out to every non-nil target in order.
func NewMultiNotifier(targets ...publisher) *MultiNotifier {
	nonNil := make([]publisher, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			nonNil = append(nonNil, t)
		}
	}
	return &MultiNotifier{targets: nonNil}
}

func (m *MultiNotifier) Publish(ctx context.Context, evt *events.BaseEvent) error {
	var firstErr error
	for _, t := range m.targets {
		if err := t.Publish(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
