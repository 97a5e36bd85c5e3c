package meta

import (
	"sync"
	"sync/atomic"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
)

// Snapshot is one immutable view of the schema. Readers obtain a snapshot
// and may hold it for as long as they like; the store never mutates a
// published snapshot in place.
type Snapshot struct {
	Keyspaces map[string]*Keyspace
}

func newSnapshot() *Snapshot {
	return &Snapshot{Keyspaces: make(map[string]*Keyspace)}
}

// Keyspace returns the named keyspace or nil
func (s *Snapshot) Keyspace(name string) *Keyspace {
	if s == nil {
		return nil
	}
	return s.Keyspaces[name]
}

// Store is the session's schema metadata, double buffered. A full refresh
// rebuilds a back buffer and publishes it with one atomic swap so that
// readers never observe a half-applied rebuild. Targeted refreshes and drops
// outside a rebuild are applied copy-on-write against the front buffer.
//
// Writer methods are serialized by the control channel; the internal mutex
// exists so that a misbehaving embedder cannot corrupt the buffers.
type Store struct {
	mu    sync.Mutex
	front atomic.Pointer[Snapshot]
	back  *Snapshot
}

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{}
	s.front.Store(newSnapshot())
	return s
}

// CurrentSnapshot returns the published front buffer. Never nil.
func (s *Store) CurrentSnapshot() *Snapshot {
	return s.front.Load()
}

// ClearAndUpdateBack starts a full rebuild: subsequent Update calls apply to
// a fresh back buffer until SwapToBackAndUpdateFront publishes it.
func (s *Store) ClearAndUpdateBack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.back = newSnapshot()
}

// SwapToBackAndUpdateFront atomically publishes the back buffer and ends the
// rebuild.
func (s *Store) SwapToBackAndUpdateFront() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.back == nil {
		return
	}
	s.front.Store(s.back)
	s.back = nil
}

// mutate applies fn to the back buffer during a rebuild, or copy-on-write
// against the front buffer otherwise. In the latter case the updated
// snapshot is published before returning.
func (s *Store) mutate(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.back != nil {
		fn(s.back)
		return
	}
	next := s.front.Load().clone()
	fn(next)
	s.front.Store(next)
}

// clone copies the snapshot's keyspace map. Entries are shared; mutators
// must go through ensure* helpers which clone an entry before touching it.
func (s *Snapshot) clone() *Snapshot {
	next := newSnapshot()
	for name, ks := range s.Keyspaces {
		next.Keyspaces[name] = ks
	}
	return next
}

func (ks *Keyspace) clone() *Keyspace {
	next := &Keyspace{
		Name:          ks.Name,
		DurableWrites: ks.DurableWrites,
		Replication:   ks.Replication,
		Tables:        make(map[string]*Table, len(ks.Tables)),
		Views:         make(map[string]*View, len(ks.Views)),
		UserTypes:     make(map[string]*UserType, len(ks.UserTypes)),
		Functions:     make(map[string]*Function, len(ks.Functions)),
		Aggregates:    make(map[string]*Aggregate, len(ks.Aggregates)),
	}
	for k, v := range ks.Tables {
		next.Tables[k] = v
	}
	for k, v := range ks.Views {
		next.Views[k] = v
	}
	for k, v := range ks.UserTypes {
		next.UserTypes[k] = v
	}
	for k, v := range ks.Functions {
		next.Functions[k] = v
	}
	for k, v := range ks.Aggregates {
		next.Aggregates[k] = v
	}
	return next
}

// ensureKeyspace returns a keyspace safe to mutate within this snapshot,
// cloning a shared entry or creating a missing one.
func (s *Snapshot) ensureKeyspace(name string) *Keyspace {
	ks, ok := s.Keyspaces[name]
	if !ok {
		ks = newKeyspace(name)
	} else {
		ks = ks.clone()
	}
	s.Keyspaces[name] = ks
	return ks
}

func (t *Table) clone() *Table {
	next := &Table{
		Keyspace: t.Keyspace,
		Name:     t.Name,
		Comment:  t.Comment,
		Columns:  make(map[string]*Column, len(t.Columns)),
		Indexes:  make(map[string]*Index, len(t.Indexes)),
	}
	for k, v := range t.Columns {
		next.Columns[k] = v
	}
	for k, v := range t.Indexes {
		next.Indexes[k] = v
	}
	return next
}

func (v *View) clone() *View {
	next := &View{
		Keyspace:  v.Keyspace,
		Name:      v.Name,
		BaseTable: v.BaseTable,
		Columns:   make(map[string]*Column, len(v.Columns)),
	}
	for k, c := range v.Columns {
		next.Columns[k] = c
	}
	return next
}

// UpdateKeyspaces applies keyspace rows. Existing child entities are carried
// over so a keyspace-only refresh does not drop tables.
func (s *Store) UpdateKeyspaces(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			ks := decodeKeyspace(version, row)
			if ks == nil {
				logger.Warnf("Skipping keyspace row with missing keyspace_name")
				continue
			}
			if prev, ok := snap.Keyspaces[ks.Name]; ok {
				ks.Tables = prev.Tables
				ks.Views = prev.Views
				ks.UserTypes = prev.UserTypes
				ks.Functions = prev.Functions
				ks.Aggregates = prev.Aggregates
			}
			snap.Keyspaces[ks.Name] = ks
		}
	})
}

// UpdateTables applies table rows, replacing the named tables wholesale
func (s *Store) UpdateTables(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			t := decodeTable(version, row)
			if t == nil {
				continue
			}
			snap.ensureKeyspace(t.Keyspace).Tables[t.Name] = t
		}
	})
}

// UpdateViews applies materialized view rows
func (s *Store) UpdateViews(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			v := decodeView(row)
			if v == nil {
				continue
			}
			snap.ensureKeyspace(v.Keyspace).Views[v.Name] = v
		}
	})
}

// UpdateColumns applies column rows to their owning table or view
func (s *Store) UpdateColumns(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			c := decodeColumn(version, row)
			if c == nil {
				continue
			}
			ks := snap.ensureKeyspace(c.Keyspace)
			if t, ok := ks.Tables[c.Table]; ok {
				t = t.clone()
				t.Columns[c.Name] = c
				ks.Tables[c.Table] = t
			} else if v, ok := ks.Views[c.Table]; ok {
				v = v.clone()
				v.Columns[c.Name] = c
				ks.Views[c.Table] = v
			} else {
				// Column rows can arrive before their table row within a
				// rebuild; park them on an implicit table entry.
				t := &Table{
					Keyspace: c.Keyspace,
					Name:     c.Table,
					Columns:  map[string]*Column{c.Name: c},
					Indexes:  make(map[string]*Index),
				}
				ks.Tables[c.Table] = t
			}
		}
	})
}

// UpdateIndexes applies secondary index rows
func (s *Store) UpdateIndexes(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			idx := decodeIndex(row)
			if idx == nil {
				continue
			}
			ks := snap.ensureKeyspace(idx.Keyspace)
			t, ok := ks.Tables[idx.Table]
			if !ok {
				continue
			}
			t = t.clone()
			t.Indexes[idx.Name] = idx
			ks.Tables[idx.Table] = t
		}
	})
}

// UpdateUserTypes applies user defined type rows
func (s *Store) UpdateUserTypes(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			ut := decodeUserType(row)
			if ut == nil {
				continue
			}
			snap.ensureKeyspace(ut.Keyspace).UserTypes[ut.Name] = ut
		}
	})
}

// UpdateFunctions applies user defined function rows
func (s *Store) UpdateFunctions(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			f := decodeFunction(row)
			if f == nil {
				continue
			}
			snap.ensureKeyspace(f.Keyspace).Functions[FullFunctionName(f.Name, f.ArgumentTypes)] = f
		}
	})
}

// UpdateAggregates applies user defined aggregate rows
func (s *Store) UpdateAggregates(version cql.Version, rs *cql.ResultSet) {
	s.mutate(func(snap *Snapshot) {
		for _, row := range rs.Rows {
			a := decodeAggregate(row)
			if a == nil {
				continue
			}
			snap.ensureKeyspace(a.Keyspace).Aggregates[FullFunctionName(a.Name, a.ArgumentTypes)] = a
		}
	})
}

// DropKeyspace removes a keyspace and everything beneath it
func (s *Store) DropKeyspace(name string) {
	s.mutate(func(snap *Snapshot) {
		delete(snap.Keyspaces, name)
	})
}

// DropTableOrView removes the named table, or the named view when no table
// matches. DROPPED schema events for tables and views arrive with the same
// target type on old servers.
func (s *Store) DropTableOrView(keyspace, name string) {
	s.mutate(func(snap *Snapshot) {
		ks, ok := snap.Keyspaces[keyspace]
		if !ok {
			return
		}
		ks = ks.clone()
		if _, ok := ks.Tables[name]; ok {
			delete(ks.Tables, name)
		} else {
			delete(ks.Views, name)
		}
		snap.Keyspaces[keyspace] = ks
	})
}

// DropUserType removes a user defined type
func (s *Store) DropUserType(keyspace, name string) {
	s.mutate(func(snap *Snapshot) {
		ks, ok := snap.Keyspaces[keyspace]
		if !ok {
			return
		}
		ks = ks.clone()
		delete(ks.UserTypes, name)
		snap.Keyspaces[keyspace] = ks
	})
}

// DropFunction removes a function by its full name
func (s *Store) DropFunction(keyspace, fullName string) {
	s.mutate(func(snap *Snapshot) {
		ks, ok := snap.Keyspaces[keyspace]
		if !ok {
			return
		}
		ks = ks.clone()
		delete(ks.Functions, fullName)
		snap.Keyspaces[keyspace] = ks
	})
}

// DropAggregate removes an aggregate by its full name
func (s *Store) DropAggregate(keyspace, fullName string) {
	s.mutate(func(snap *Snapshot) {
		ks, ok := snap.Keyspaces[keyspace]
		if !ok {
			return
		}
		ks = ks.clone()
		delete(ks.Aggregates, fullName)
		snap.Keyspaces[keyspace] = ks
	})
}
