package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// SQLPersister mirrors committed entities to Postgres, the same
// upsert-on-commit idiom internal/ledger.Ledger uses for Entry/Transfer
// rows. The in-memory Store remains authoritative for reads within a
// process; this is the durable write path consumed by reporting/dashboard
// tooling that sits outside this repo's scope (spec.md §1).
type SQLPersister struct {
	db *sql.DB
}

// NewSQLPersister wraps an open *sql.DB. Open it with
// sql.Open("postgres", dsn) against the lib/pq driver, matching every
// cmd/*/main.go in the teacher corpus.
func NewSQLPersister(db *sql.DB) *SQLPersister {
	return &SQLPersister{db: db}
}

func (p *SQLPersister) SaveSchedule(ctx context.Context, s Schedule) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO schedules (id, vessel_id, berth_id, eta, predicted_eta, etd, ata, atb, atd,
			status, dwell_minutes, waiting_minutes, optimization_score, priority_weight, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			eta = EXCLUDED.eta, predicted_eta = EXCLUDED.predicted_eta, etd = EXCLUDED.etd,
			ata = EXCLUDED.ata, atb = EXCLUDED.atb, atd = EXCLUDED.atd, status = EXCLUDED.status,
			dwell_minutes = EXCLUDED.dwell_minutes, waiting_minutes = EXCLUDED.waiting_minutes,
			optimization_score = EXCLUDED.optimization_score, notes = EXCLUDED.notes`,
		s.ScheduleID, s.VesselID, s.BerthID, s.Eta, s.PredictedEta, s.Etd, s.Ata, s.Atb, s.Atd,
		s.Status, s.DwellMinutes, s.WaitingMinutes, s.OptimizationScore, s.PriorityWeight, s.Notes,
	)
	if err != nil {
		return fmt.Errorf("store: save schedule %d: %w", s.ScheduleID, err)
	}
	return nil
}

func (p *SQLPersister) SaveConflict(ctx context.Context, c Conflict) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, kind, schedule_id_1, schedule_id_2, severity, detected_at,
			resolved_at, description, resolution_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET resolved_at = EXCLUDED.resolved_at, resolution_json = EXCLUDED.resolution_json`,
		c.ConflictID, c.Kind, c.ScheduleID1, c.ScheduleID2, c.Severity, c.DetectedAt,
		c.ResolvedAt, c.Description, c.ResolutionJSON,
	)
	if err != nil {
		return fmt.Errorf("store: save conflict %d: %w", c.ConflictID, err)
	}
	return nil
}

func (p *SQLPersister) SaveAlert(ctx context.Context, a Alert) error {
	related, err := json.Marshal(a.RelatedEntities)
	if err != nil {
		return fmt.Errorf("store: marshal alert related entities: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, type, severity, message, related_entities, created_at, read_at, auto_dismiss_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET read_at = EXCLUDED.read_at`,
		a.AlertID, a.Type, a.Severity, a.Message, related, a.CreatedAt, a.ReadAt, a.AutoDismissMs,
	)
	if err != nil {
		return fmt.Errorf("store: save alert %d: %w", a.AlertID, err)
	}
	return nil
}

func (p *SQLPersister) SaveVesselHistory(ctx context.Context, h VesselHistory) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vessel_history (id, vessel_id, schedule_id, berth_id, ata, atb, atd,
			waiting_minutes, actual_dwell_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		h.ID, h.VesselID, h.ScheduleID, h.BerthID, h.Ata, h.Atb, h.Atd,
		h.WaitingMinutes, h.ActualDwellMinutes,
	)
	if err != nil {
		return fmt.Errorf("store: save vessel history %d: %w", h.ID, err)
	}
	return nil
}

// LockBerthForAllocation takes a row-level lock on a berth's bookkeeping
// row inside tx, the same SELECT ... FOR UPDATE idiom internal/ledger uses
// to serialize account mutation. Store.Allocate does not call it. Call
// within a transaction obtained from BeginTx.
func (p *SQLPersister) LockBerthForAllocation(ctx context.Context, tx *sql.Tx, berthID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM berths WHERE id = $1 FOR UPDATE`, berthID).Scan(&id)
	if err != nil {
		return fmt.Errorf("store: lock berth %d: %w", berthID, err)
	}
	return nil
}

// BeginTx starts a transaction on the underlying connection, for use with
// LockBerthForAllocation above.
func (p *SQLPersister) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, nil)
}
