package store

import "sync"

// Port and Terminal are referenced by berths (Berth.TerminalID) and by the
// ingress API's /terminals and /ports routes (spec.md §6) but spec.md §3
// never spells out their own fields beyond the ids berths and tidal
// readings point at; these are the minimal identity+name records that
// satisfies the ingress surface without inventing invariants the source
// spec never states.
type Port struct {
	PortID int64
	Code   string
	Name   string
}

// Terminal groups berths under one port.
type Terminal struct {
	TerminalID int64
	PortID     int64
	Name       string
	Code       string
}

type refData struct {
	mu        sync.RWMutex
	ports     map[int64]*Port
	terminals map[int64]*Terminal
}

// PutPort inserts or replaces a Port record.
func (s *Store) PutPort(p Port) {
	s.ref().mu.Lock()
	defer s.ref().mu.Unlock()
	cp := p
	s.ref().ports[p.PortID] = &cp
}

// ListPorts returns every known port.
func (s *Store) ListPorts() []Port {
	s.ref().mu.RLock()
	defer s.ref().mu.RUnlock()
	out := make([]Port, 0, len(s.ref().ports))
	for _, p := range s.ref().ports {
		out = append(out, *p)
	}
	return out
}

// PutTerminal inserts or replaces a Terminal record.
func (s *Store) PutTerminal(t Terminal) {
	s.ref().mu.Lock()
	defer s.ref().mu.Unlock()
	cp := t
	s.ref().terminals[t.TerminalID] = &cp
}

// ListTerminals returns every known terminal.
func (s *Store) ListTerminals() []Terminal {
	s.ref().mu.RLock()
	defer s.ref().mu.RUnlock()
	out := make([]Terminal, 0, len(s.ref().terminals))
	for _, t := range s.ref().terminals {
		out = append(out, *t)
	}
	return out
}

func (s *Store) ref() *refData {
	s.refOnce.Do(func() {
		s.refData = &refData{
			ports:     make(map[int64]*Port),
			terminals: make(map[int64]*Terminal),
		}
	})
	return s.refData
}
