// Package events defines the domain event envelope and payload types
// exchanged between the berth-planner daemons over pkg/messaging (NATS) and
// fanned out to clients by internal/eventbus. Every event kind named in
// spec.md §4.H has a constant and a payload struct here.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants, one per spec.md §4.H / §6 kind.
const (
	TypeScheduleChanged = "schedule.changed"
	TypeConflictDetected = "conflict.detected"
	TypeConflictResolved = "conflict.resolved"
	TypeAlertRaised      = "alert.raised"
	TypePositionUpdated  = "position.updated"
	TypeETAUpdated       = "eta.updated"
	TypeLag              = "lag"
)

// BaseEvent is the envelope every published event travels in.
type BaseEvent struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateID   int64           `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Metadata carries correlation/causation/tracing context alongside an event.
type Metadata struct {
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id"`
	Source        string            `json:"source"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ScheduleChangedData describes a created, rescheduled or cancelled Schedule.
type ScheduleChangedData struct {
	ScheduleID int64  `json:"schedule_id"`
	VesselID   int64  `json:"vessel_id"`
	BerthID    int64  `json:"berth_id"`
	Action     string `json:"action"` // created | rescheduled | cancelled | statusChanged
	Eta        string `json:"eta"`
	Etd        string `json:"etd"`
	Status     string `json:"status"`
}

// ConflictDetectedData mirrors the Conflict entity (spec.md §3).
type ConflictDetectedData struct {
	ConflictID  int64  `json:"conflict_id"`
	Kind        string `json:"kind"`
	ScheduleID1 int64  `json:"schedule_id_1"`
	ScheduleID2 int64  `json:"schedule_id_2,omitempty"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ConflictResolvedData is emitted once a Conflict's resolvedAt is set.
type ConflictResolvedData struct {
	ConflictID int64  `json:"conflict_id"`
	Resolution string `json:"resolution"`
}

// AlertRaisedData mirrors the Alert entity.
type AlertRaisedData struct {
	AlertID         int64    `json:"alert_id"`
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Message         string   `json:"message"`
	RelatedEntities []int64  `json:"related_entities"`
}

// PositionUpdatedData carries a normalized AIS position report.
type PositionUpdatedData struct {
	VesselID   int64     `json:"vessel_id"`
	MMSI       string    `json:"mmsi,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SOG        float64   `json:"sog"`
	COG        float64   `json:"cog"`
	Heading    float64   `json:"heading"`
	NavStatus  string    `json:"nav_status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ETAUpdatedData is emitted whenever Store.updateETA moves a schedule's eta.
type ETAUpdatedData struct {
	ScheduleID   int64     `json:"schedule_id"`
	VesselID     int64     `json:"vessel_id"`
	OldEta       time.Time `json:"old_eta"`
	NewEta       time.Time `json:"new_eta"`
	PredictedEta time.Time `json:"predicted_eta"`
	DeltaMinutes float64   `json:"delta_minutes"`
}

// NewEvent marshals data and wraps it in a BaseEvent envelope.
func NewEvent(eventType string, aggregateID int64, aggregateType string, data interface{}, meta Metadata) (*BaseEvent, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &BaseEvent{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     time.Now(),
		Version:       1,
		Data:          dataBytes,
		Metadata:      meta,
	}, nil
}

// ParseData unmarshals the event's Data into v.
func (e *BaseEvent) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// WithCorrelation sets correlation and causation ids on Metadata, chainable.
func (m Metadata) WithCorrelation(correlationID, causationID string) Metadata {
	m.CorrelationID = correlationID
	m.CausationID = causationID
	return m
}
