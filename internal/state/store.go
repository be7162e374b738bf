// Package state holds the application's in-memory projections: named row
// collections and singleton scalar records, each keyed by the logical view
// that owns it. Live views and one-shot fetches write through the mutation
// API; UI bindings read copies and observe changes with OnChange.
package state

import (
	"maps"
	"slices"
	"sync"
)

// Row is any entity that can live in a collection. Rows sharing a RowID are
// the same logical entity.
type Row interface {
	RowID() string
}

// Key names one collection or scalar record. Every key maps to exactly one
// logical view.
type Key string

// Op identifies the mutation that produced a Change.
type Op string

const (
	OpSet     Op = "set"
	OpAppend  Op = "append"
	OpPrepend Op = "prepend"
	OpRemove  Op = "remove"
	OpUpdate  Op = "update"
	OpPatch   Op = "patch"
	OpClear   Op = "clear"
)

// Change describes a single applied mutation.
type Change struct {
	Key Key
	Op  Op
	// ID is the affected row for row-level operations.
	ID string
}

// Listener is called after a mutation has been applied.
type Listener func(Change)

type listener struct {
	id uint64
	fn Listener
}

// Store is the state container. It is safe for concurrent use; mutations on
// one key are applied in call order and the last write wins. There is no
// atomicity across keys.
type Store struct {
	mu          sync.RWMutex
	collections map[Key][]Row
	scalars     map[Key]map[string]any

	lmu       sync.RWMutex
	nextID    uint64
	listeners map[Key][]listener
	any       []listener
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[Key][]Row),
		scalars:     make(map[Key]map[string]any),
		listeners:   make(map[Key][]listener),
	}
}

// SetCollection replaces the whole collection at key with rows.
func (s *Store) SetCollection(key Key, rows []Row) {
	s.mu.Lock()
	s.collections[key] = slices.Clone(rows)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpSet})
}

// AppendUnique appends row unless a row with the same id is already present.
// It reports whether the row was inserted.
func (s *Store) AppendUnique(key Key, row Row) bool {
	id := row.RowID()
	s.mu.Lock()
	rows := s.collections[key]
	if indexOf(rows, id) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.collections[key] = append(rows, row)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpAppend, ID: id})
	return true
}

// PrependIf inserts row at the head of the collection when accept returns
// true. accept receives the current head and ok=false for an empty
// collection.
func (s *Store) PrependIf(key Key, row Row, accept func(head Row, ok bool) bool) bool {
	s.mu.Lock()
	rows := s.collections[key]
	var head Row
	if len(rows) > 0 {
		head = rows[0]
	}
	if !accept(head, len(rows) > 0) {
		s.mu.Unlock()
		return false
	}
	next := make([]Row, 0, len(rows)+1)
	next = append(next, row)
	s.collections[key] = append(next, rows...)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpPrepend, ID: row.RowID()})
	return true
}

// RemoveByID removes the first row whose id matches. It is a no-op when no
// row matches and reports whether a row was removed.
func (s *Store) RemoveByID(key Key, id string) bool {
	s.mu.Lock()
	rows := s.collections[key]
	i := indexOf(rows, id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.collections[key] = slices.Delete(slices.Clone(rows), i, i+1)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpRemove, ID: id})
	return true
}

// UpdateByID applies fn to the row with the given id. fn returns the
// replacement row and keep=false to drop the row instead. It reports
// whether a row with that id existed.
func (s *Store) UpdateByID(key Key, id string, fn func(old Row) (next Row, keep bool)) bool {
	s.mu.Lock()
	rows := s.collections[key]
	i := indexOf(rows, id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next, keep := fn(rows[i])
	rows = slices.Clone(rows)
	op := OpUpdate
	if keep {
		rows[i] = next
	} else {
		rows = slices.Delete(rows, i, i+1)
		op = OpRemove
	}
	s.collections[key] = rows
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: op, ID: id})
	return true
}

// PatchScalar shallow-merges fields into the singleton record at key.
func (s *Store) PatchScalar(key Key, fields map[string]any) {
	s.mu.Lock()
	rec, ok := s.scalars[key]
	if !ok {
		rec = make(map[string]any, len(fields))
		s.scalars[key] = rec
	}
	maps.Copy(rec, fields)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpPatch})
}

// Clear drops the collection and scalar record at key.
func (s *Store) Clear(key Key) {
	s.mu.Lock()
	delete(s.collections, key)
	delete(s.scalars, key)
	s.mu.Unlock()
	s.emit(Change{Key: key, Op: OpClear})
}

// Collection returns a copy of the rows at key, in stored order.
func (s *Store) Collection(key Key) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.collections[key])
}

// Len returns the number of rows at key.
func (s *Store) Len(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[key])
}

// Has reports whether a row with id exists at key.
func (s *Store) Has(key Key, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.collections[key], id) >= 0
}

// Scalar returns a copy of the singleton record at key.
func (s *Store) Scalar(key Key) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.scalars[key])
}

// Keys returns every key that currently holds a collection or a record.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.collections)+len(s.scalars))
	for k := range s.collections {
		keys = append(keys, k)
	}
	for k := range s.scalars {
		if _, dup := s.collections[k]; !dup {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Rows returns the rows at key that are of type T.
func Rows[T Row](s *Store, key Key) []T {
	rows := s.Collection(key)
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if t, ok := r.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// AsRows converts a typed slice for SetCollection.
func AsRows[T Row](in []T) []Row {
	out := make([]Row, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}

// OnChange registers fn for mutations on key. The returned function removes
// the registration and may be called more than once.
func (s *Store) OnChange(key Key, fn Listener) (cancel func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[key] = append(s.listeners[key], listener{id: id, fn: fn})
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		s.listeners[key] = slices.DeleteFunc(s.listeners[key], func(l listener) bool { return l.id == id })
	}
}

// OnAnyChange registers fn for mutations on every key.
func (s *Store) OnAnyChange(fn Listener) (cancel func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.any = append(s.any, listener{id: id, fn: fn})
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		s.any = slices.DeleteFunc(s.any, func(l listener) bool { return l.id == id })
	}
}

// emit runs listeners outside the data lock so they can read the store.
func (s *Store) emit(c Change) {
	s.lmu.RLock()
	keyed := slices.Clone(s.listeners[c.Key])
	all := slices.Clone(s.any)
	s.lmu.RUnlock()

	for _, l := range keyed {
		l.fn(c)
	}
	for _, l := range all {
		l.fn(c)
	}
}

func indexOf(rows []Row, id string) int {
	for i, r := range rows {
		if r.RowID() == id {
			return i
		}
	}
	return -1
}
