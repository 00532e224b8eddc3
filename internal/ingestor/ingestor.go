// Package ingestor is the Position Ingestor (spec.md §4.F): a single
// long-lived websocket client against an external AIS push feed, grounded on
// internal/market.Feed's subscriber/broadcast shape but turned around to run
// as the feed's *client* rather than its server — the direction spec.md §4.F
// actually needs (the core subscribes to a third party, it does not serve
// AIS data itself).
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/shared/events"
)

// State is the ingestor's connection lifecycle (spec.md §4.F).
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateSubscribed   State = "Subscribed"
	StateRunning      State = "Running"
	StateDegraded     State = "Degraded"
)

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second

	coalesceWindow = 5 * time.Second
	emaAlpha       = 0.3
	emaWindow      = 6

	deviationInfoMinutes     = 15.0
	deviationWarningMinutes  = 60.0
	deviationCriticalMinutes = 120.0
)

// Notifier publishes domain events emitted on accepted reports.
type Notifier interface {
	Publish(ctx context.Context, evt *events.BaseEvent) error
}

// Config carries the AIS endpoint coordinates and subscription filter
// (SPEC_FULL.md §10.3).
type Config struct {
	URL          string
	APIKey       string
	BoundingBox  *BoundingBox
	MMSIList     []string
	PortLat      float64
	PortLon      float64
}

// BoundingBox restricts the subscription to a geographic region.
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

type subscribeMessage struct {
	APIKey      string       `json:"apiKey"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	MMSI        []string     `json:"mmsi,omitempty"`
}

// inboundMessage is the wire envelope; the core tolerates any format that
// carries these two message kinds (spec.md §6's protocol-agnostic note).
type inboundMessage struct {
	Type           string          `json:"type"` // "positionReport" | "shipStaticData"
	PositionReport *wirePosition   `json:"positionReport,omitempty"`
}

type wirePosition struct {
	VesselID   int64   `json:"vesselId"`
	MMSI       *string `json:"mmsi,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SOG        float64 `json:"sog"`
	COG        float64 `json:"cog"`
	Heading    float64 `json:"heading"`
	NavStatus  string  `json:"navStatus"`
	RecordedAt string  `json:"recordedAt"`
}

// Ingestor runs the websocket client loop described in spec.md §4.F.
type Ingestor struct {
	cfg   Config
	store *store.Store
	clock clock.Clock
	notify Notifier

	mu          sync.Mutex
	state       State
	lastWriteAt map[int64]time.Time // vesselId -> last accepted write time, for coalescing

	conn *websocket.Conn
}

// smoothedSpeed folds an exponential moving average (alpha = emaAlpha) over
// up to the last emaWindow samples, oldest first, per spec.md §4.F.
func smoothedSpeed(samples []store.PositionReport) float64 {
	if len(samples) == 0 {
		return 0
	}
	speed := samples[0].SOG
	for _, s := range samples[1:] {
		speed = emaAlpha*s.SOG + (1-emaAlpha)*speed
	}
	return speed
}

// New builds an Ingestor. notify may be nil (events are dropped).
func New(cfg Config, st *store.Store, clk clock.Clock, notify Notifier) *Ingestor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ingestor{
		cfg:         cfg,
		store:       st,
		clock:       clk,
		notify:      notify,
		state:       StateDisconnected,
		lastWriteAt: make(map[int64]time.Time),
	}
}

// State returns the current connection state.
func (ig *Ingestor) State() State {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	return ig.state
}

func (ig *Ingestor) setState(s State) {
	ig.mu.Lock()
	ig.state = s
	ig.mu.Unlock()
}

// Run drives the reconnect loop until ctx is cancelled. A stop signal
// (ctx.Done) lets any in-flight write complete before closing the socket,
// per spec.md §4.F's cancellation contract.
func (ig *Ingestor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			ig.setState(StateDisconnected)
			return ctx.Err()
		}

		if err := ig.runOnce(ctx); err != nil {
			ig.setState(StateDegraded)
			attempt++
			wait := backoffWithFullJitter(attempt)
			select {
			case <-ctx.Done():
				ig.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
	}
}

// backoffWithFullJitter implements base 1s, cap 60s, full jitter: a random
// duration in [0, min(cap, base*2^attempt)].
func backoffWithFullJitter(attempt int) time.Duration {
	exp := float64(backoffBase) * math.Pow(2, float64(attempt))
	capped := math.Min(exp, float64(backoffCap))
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

func (ig *Ingestor) runOnce(ctx context.Context) error {
	ig.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ig.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("ingestor: dial: %w", err)
	}
	ig.conn = conn
	defer conn.Close()

	sub := subscribeMessage{APIKey: ig.cfg.APIKey, BoundingBox: ig.cfg.BoundingBox, MMSI: ig.cfg.MMSIList}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("ingestor: subscribe: %w", err)
	}
	ig.setState(StateSubscribed)
	ig.setState(StateRunning)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ingestor: read: %w", err)
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type != "positionReport" || msg.PositionReport == nil {
			continue
		}
		ig.handlePositionReport(ctx, *msg.PositionReport)
	}
}

func (ig *Ingestor) handlePositionReport(ctx context.Context, w wirePosition) {
	recordedAt, err := time.Parse(time.RFC3339, w.RecordedAt)
	if err != nil {
		recordedAt = ig.clock.Now()
	}

	if latest, ok := ig.store.LatestPosition(w.VesselID); ok && !recordedAt.After(latest.RecordedAt) {
		return // drop: older than the latest persisted sample
	}

	ig.mu.Lock()
	last, seen := ig.lastWriteAt[w.VesselID]
	if seen && ig.clock.Now().Sub(last) < coalesceWindow {
		ig.mu.Unlock()
		return // coalesce: at most one write per vessel per 5s
	}
	ig.lastWriteAt[w.VesselID] = ig.clock.Now()
	ig.mu.Unlock()

	report := store.PositionReport{
		VesselID:   w.VesselID,
		MMSI:       w.MMSI,
		Lat:        w.Lat,
		Lon:        w.Lon,
		SOG:        w.SOG,
		COG:        w.COG,
		Heading:    w.Heading,
		NavStatus:  w.NavStatus,
		RecordedAt: recordedAt,
		IngestedAt: ig.clock.Now(),
	}
	ig.store.RecordPosition(report)
	ig.publishPositionUpdated(ctx, report)
	ig.recomputePredictedETA(ctx, report)
}

// recomputePredictedETA applies the EMA-smoothed speed over the last 6
// samples to a great-circle distance remaining to the configured port
// reference point, per spec.md §4.F, and raises an ETAUpdate alert plus
// Store.UpdateETA when the deviation crosses the 15/60/120-minute bands.
func (ig *Ingestor) recomputePredictedETA(ctx context.Context, report store.PositionReport) {
	sch, ok := ig.store.ActiveScheduleForVessel(report.VesselID)
	if !ok {
		return
	}

	speed := smoothedSpeed(ig.store.RecentPositions(report.VesselID, emaWindow))
	if speed < 0.1 {
		return // stationary/insufficient speed to project an ETA
	}

	distanceNM := haversineNM(report.Lat, report.Lon, ig.cfg.PortLat, ig.cfg.PortLon)
	hoursRemaining := distanceNM / speed
	predictedEta := report.RecordedAt.Add(time.Duration(hoursRemaining * float64(time.Hour)))

	deltaMinutes := predictedEta.Sub(sch.Eta).Minutes()
	severity, shouldAlert := deviationSeverity(deltaMinutes)
	if !shouldAlert {
		return // below the 15-minute band: nothing is raised or pushed to the Store
	}

	updated, _, _, err := ig.store.UpdateETA(ctx, sch.ScheduleID, sch.Eta, &predictedEta)
	if err != nil {
		return
	}
	ig.publishETAUpdated(ctx, updated, deltaMinutes)

	if shouldAlert {
		alert, err := ig.store.RaiseAlert(ctx, store.Alert{
			Type:            "ETAUpdate",
			Severity:        store.Severity(severity),
			Message:         fmt.Sprintf("schedule %d predicted ETA deviates from eta by %.0f minutes", sch.ScheduleID, deltaMinutes),
			RelatedEntities: []int64{sch.ScheduleID, sch.VesselID},
		})
		if err == nil {
			ig.publishAlertRaised(ctx, *alert)
		}
	}
}

func deviationSeverity(deltaMinutes float64) (string, bool) {
	d := deltaMinutes
	if d < 0 {
		d = -d
	}
	switch {
	case d >= deviationCriticalMinutes:
		return "Critical", true
	case d >= deviationWarningMinutes:
		return "Warning", true
	case d >= deviationInfoMinutes:
		return "Info", true
	default:
		return "", false
	}
}

const earthRadiusNM = 3440.065

func haversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusNM * c
}

func (ig *Ingestor) publishPositionUpdated(ctx context.Context, r store.PositionReport) {
	if ig.notify == nil {
		return
	}
	var mmsi string
	if r.MMSI != nil {
		mmsi = *r.MMSI
	}
	evt, err := events.NewEvent(events.TypePositionUpdated, r.VesselID, "Vessel", events.PositionUpdatedData{
		VesselID:   r.VesselID,
		MMSI:       mmsi,
		Lat:        r.Lat,
		Lon:        r.Lon,
		SOG:        r.SOG,
		COG:        r.COG,
		Heading:    r.Heading,
		NavStatus:  r.NavStatus,
		RecordedAt: r.RecordedAt,
	}, events.Metadata{Source: "internal/ingestor"})
	if err != nil {
		return
	}
	_ = ig.notify.Publish(ctx, evt)
}

func (ig *Ingestor) publishETAUpdated(ctx context.Context, sch *store.Schedule, deltaMinutes float64) {
	if ig.notify == nil || sch == nil {
		return
	}
	evt, err := events.NewEvent(events.TypeETAUpdated, sch.ScheduleID, "Schedule", events.ETAUpdatedData{
		ScheduleID:   sch.ScheduleID,
		VesselID:     sch.VesselID,
		OldEta:       sch.Eta,
		NewEta:       sch.Eta,
		PredictedEta: sch.PredictedEta,
		DeltaMinutes: deltaMinutes,
	}, events.Metadata{Source: "internal/ingestor"})
	if err != nil {
		return
	}
	_ = ig.notify.Publish(ctx, evt)
}

func (ig *Ingestor) publishAlertRaised(ctx context.Context, a store.Alert) {
	if ig.notify == nil {
		return
	}
	evt, err := events.NewEvent(events.TypeAlertRaised, a.AlertID, "Alert", events.AlertRaisedData{
		AlertID:         a.AlertID,
		Type:            a.Type,
		Severity:        string(a.Severity),
		Message:         a.Message,
		RelatedEntities: a.RelatedEntities,
	}, events.Metadata{Source: "internal/ingestor"})
	if err != nil {
		return
	}
	_ = ig.notify.Publish(ctx, evt)
}
