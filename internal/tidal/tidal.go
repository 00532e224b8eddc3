// Package tidal stores and queries TidalReading samples (spec.md §3) in
// InfluxDB — a genuine time series, unlike the mostly-static Vessel/Berth
// tables internal/store holds, so it gets its own storage engine rather
// than another SQL table. The teacher's go.mod already lists
// influxdb-client-go/v2 as a dependency with no importer; this package is
// where it earns its place.
package tidal

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/portops/berthplan/internal/store"
)

// Config holds the InfluxDB connection coordinates (SPEC_FULL.md §10.3/§11).
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Store wraps an influxdb2 client for tidal reading writes and queries.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// NewStore opens a client against cfg. The caller must call Close.
func NewStore(cfg Config) *Store {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}
}

func (s *Store) Close() { s.client.Close() }

// WriteReading persists one TidalReading as a point tagged by port and
// tide type, with height as its field.
func (s *Store) WriteReading(ctx context.Context, r store.TidalReading) error {
	p := influxdb2.NewPoint("tidal_reading",
		map[string]string{
			"port_id": fmt.Sprintf("%d", r.PortID),
			"type":    string(r.Type),
		},
		map[string]interface{}{
			"height_meters": r.HeightMeters,
		},
		r.TideTime,
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("tidal: write point: %w", err)
	}
	return nil
}

// NearestReading returns the tidal sample closest to `at` for portID,
// searching a window on either side (default +/-6h, enough to straddle a
// full tidal cycle) and picking the minimum absolute time distance.
func (s *Store) NearestReading(ctx context.Context, portID int64, at time.Time) (*store.TidalReading, error) {
	window := 6 * time.Hour
	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "tidal_reading" and r.port_id == %q and r._field == "height_meters")
		  |> sort(columns: ["_time"])`,
		s.bucket,
		at.Add(-window).Format(time.RFC3339),
		at.Add(window).Format(time.RFC3339),
		fmt.Sprintf("%d", portID),
	)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("tidal: query: %w", err)
	}
	defer result.Close()

	var best *store.TidalReading
	var bestDelta time.Duration
	for result.Next() {
		rec := result.Record()
		delta := rec.Time().Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if best == nil || delta < bestDelta {
			height, _ := rec.Value().(float64)
			best = &store.TidalReading{
				PortID:       portID,
				TideTime:     rec.Time(),
				HeightMeters: height,
			}
			bestDelta = delta
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("tidal: iterate result: %w", err)
	}
	return best, nil
}

// NearestHeightMeters adapts NearestReading to internal/allocation.TidalLookup.
func (s *Store) NearestHeightMeters(ctx context.Context, portID int64, at time.Time) (*float64, error) {
	reading, err := s.NearestReading(ctx, portID, at)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, nil
	}
	h := reading.HeightMeters
	return &h, nil
}
