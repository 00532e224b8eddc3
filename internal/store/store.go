package store

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/pkg/scheduleindex"
)

// Persister writes committed entities to durable storage. The in-memory
// maps and per-berth scheduleindex.Index are the authoritative state for
// everything this package's exported operations reason about — matching
// spec.md §5's "shared state lives only in the Store ... internally
// synchronized" — while Persister mirrors commits to Postgres the way
// internal/ledger.Ledger persists every entry inside the same transaction
// that mutates its in-memory books. A nil/no-op Persister (used by tests)
// still gets a fully correct in-memory Store.
type Persister interface {
	SaveSchedule(ctx context.Context, s Schedule) error
	SaveConflict(ctx context.Context, c Conflict) error
	SaveAlert(ctx context.Context, a Alert) error
	SaveVesselHistory(ctx context.Context, h VesselHistory) error
}

// NopPersister discards everything; used by tests and by every cmd/*
// daemon, which passes it to New whether or not DATABASE_URL is set.
type NopPersister struct{}

func (NopPersister) SaveSchedule(ctx context.Context, s Schedule) error           { return nil }
func (NopPersister) SaveConflict(ctx context.Context, c Conflict) error           { return nil }
func (NopPersister) SaveAlert(ctx context.Context, a Alert) error                 { return nil }
func (NopPersister) SaveVesselHistory(ctx context.Context, h VesselHistory) error { return nil }

// Store is the Domain Model & Store (spec.md §4.A).
type Store struct {
	mu sync.RWMutex

	vessels map[int64]*Vessel
	berths  map[int64]*Berth

	schedules     map[int64]*Schedule
	scheduleIndex map[int64]*scheduleindex.Index // berthId -> intervals

	resources     map[int64]*Resource
	resourceAllocs map[string]*ResourceAllocation // "scheduleId:resourceId"
	resourceAllocsByID map[int64]*ResourceAllocation // synthetic allocation id -> allocation
	resourceIndex map[int64]*scheduleindex.Index  // resourceId -> intervals

	maintenance map[int64][]MaintenanceWindow // berthId -> windows

	conflicts map[int64]*Conflict
	alerts    map[int64]*Alert
	history   []VesselHistory

	latestPosition map[int64]*PositionReport   // vesselId -> most recent accepted report
	positionLog    map[int64][]PositionReport  // vesselId -> rolling report history
	posLocksOnce   sync.Once
	posLocks       *positionLocks

	refOnce sync.Once
	refData *refData

	nextScheduleID  int64
	nextConflictID  int64
	nextAlertID     int64
	nextHistoryID   int64
	nextResourceAllocSeq int64
	nextMaintenanceID int64

	clock clock.Clock
	db    *sql.DB // optional: kept by New; Allocate does not use it
	persist Persister
}

// New builds an empty Store. db may be nil (in-memory only, e.g. tests);
// persist may be nil, in which case NopPersister is used.
func New(db *sql.DB, persist Persister, clk clock.Clock) *Store {
	if persist == nil {
		persist = NopPersister{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		vessels:        make(map[int64]*Vessel),
		berths:         make(map[int64]*Berth),
		schedules:      make(map[int64]*Schedule),
		scheduleIndex:  make(map[int64]*scheduleindex.Index),
		resources:      make(map[int64]*Resource),
		resourceAllocs: make(map[string]*ResourceAllocation),
		resourceAllocsByID: make(map[int64]*ResourceAllocation),
		resourceIndex:  make(map[int64]*scheduleindex.Index),
		maintenance:    make(map[int64][]MaintenanceWindow),
		conflicts:      make(map[int64]*Conflict),
		alerts:         make(map[int64]*Alert),
		latestPosition: make(map[int64]*PositionReport),
		positionLog:    make(map[int64][]PositionReport),
		db:             db,
		persist:        persist,
		clock:          clk,
	}
}

func (s *Store) nextID(counter *int64) int64 {
	return atomic.AddInt64(counter, 1)
}

func (s *Store) berthSchedules(berthID int64) *scheduleindex.Index {
	idx, ok := s.scheduleIndex[berthID]
	if !ok {
		idx = scheduleindex.New()
		s.scheduleIndex[berthID] = idx
	}
	return idx
}

func (s *Store) resourceSchedules(resourceID int64) *scheduleindex.Index {
	idx, ok := s.resourceIndex[resourceID]
	if !ok {
		idx = scheduleindex.New()
		s.resourceIndex[resourceID] = idx
	}
	return idx
}

// --- Seed / admin helpers used by cmd/* bootstrap and by vessel/berth CRUD ---

// PutVessel inserts or replaces a Vessel record.
func (s *Store) PutVessel(v Vessel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	s.vessels[v.VesselID] = &cp
}

// GetVessel returns a copy of the vessel, or (Vessel{}, false).
func (s *Store) GetVessel(id int64) (Vessel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vessels[id]
	if !ok {
		return Vessel{}, false
	}
	return *v, true
}

// ListVessels returns every known vessel.
func (s *Store) ListVessels() []Vessel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vessel, 0, len(s.vessels))
	for _, v := range s.vessels {
		out = append(out, *v)
	}
	return out
}

// PutBerth inserts or replaces a Berth record.
func (s *Store) PutBerth(b Berth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.berths[b.BerthID] = &cp
}

// GetBerth returns a copy of the berth, or (Berth{}, false).
func (s *Store) GetBerth(id int64) (Berth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.berths[id]
	if !ok {
		return Berth{}, false
	}
	return *b, true
}

// ListBerths returns every known berth, optionally filtered by terminalId.
func (s *Store) ListBerths(terminalID *int64) []Berth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Berth, 0, len(s.berths))
	for _, b := range s.berths {
		if terminalID != nil && b.TerminalID != *terminalID {
			continue
		}
		out = append(out, *b)
	}
	return out
}

// PutResource inserts or replaces a Resource record.
func (s *Store) PutResource(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.resources[r.ResourceID] = &cp
}

// ListResources returns every known resource, optionally filtered by kind.
func (s *Store) ListResources(kind *ResourceKind) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if kind != nil && r.Kind != *kind {
			continue
		}
		out = append(out, *r)
	}
	return out
}
