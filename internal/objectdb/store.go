// Package objectdb implements C1 of SPEC_FULL.md: a typed, id-indexed
// object database with nested undo sessions. It generalizes the teacher's
// ad hoc ledger maps (core/ledger.go's Blocks/State/TokenBalances/nonces)
// into a single typed store with a reversible mutation log, per spec.md
// §4.1.
package objectdb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

var objectIDType = reflect.TypeOf(protocol.ObjectID{})

// assignID sets obj's exported "ID" field to id, if it has one of type
// protocol.ObjectID. Every protocol/implementation-space object embeds such
// a field (spec.md §4.1); this keeps the object's self-reported id in sync
// with its key in the store without every evaluator repeating the
// Create-then-Modify dance.
func assignID[T any](obj *T, id protocol.ObjectID) {
	v := reflect.ValueOf(obj).Elem()
	f := v.FieldByName("ID")
	if f.IsValid() && f.CanSet() && f.Type() == objectIDType {
		f.Set(reflect.ValueOf(id))
	}
}

type instanceKey struct {
	space protocol.Space
	typ   protocol.Type
}

// Hook lets a component react to object lifecycle events in order to
// maintain a secondary ordering (e.g. the market engine's price-ordered
// order books) without the store itself knowing about every consumer's
// index shape.
type Hook interface {
	OnCreate(id protocol.ObjectID, obj any)
	OnModify(id protocol.ObjectID, old, new any)
	OnRemove(id protocol.ObjectID, obj any)
}

// Store is the object database. All mutation must go through Create,
// Modify, and Remove so that the active undo session can capture a
// reversible record (spec.md §4.1).
type Store struct {
	mu           sync.RWMutex
	objects      map[protocol.ObjectID]any
	nextInstance map[instanceKey]uint64
	stack        []*Session
	hooks        map[instanceKey][]Hook
}

// New returns an empty store.
func New() *Store {
	return &Store{
		objects:      map[protocol.ObjectID]any{},
		nextInstance: map[instanceKey]uint64{},
		hooks:        map[instanceKey][]Hook{},
	}
}

// RegisterHook attaches hook to every lifecycle event for the given
// (space, type) pair.
func (s *Store) RegisterHook(space protocol.Space, typ protocol.Type, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := instanceKey{space, typ}
	s.hooks[k] = append(s.hooks[k], hook)
}

func (s *Store) fireCreate(id protocol.ObjectID, obj any) {
	for _, h := range s.hooks[instanceKey{id.Space, id.Type}] {
		h.OnCreate(id, obj)
	}
}
func (s *Store) fireModify(id protocol.ObjectID, old, new any) {
	for _, h := range s.hooks[instanceKey{id.Space, id.Type}] {
		h.OnModify(id, old, new)
	}
}
func (s *Store) fireRemove(id protocol.ObjectID, obj any) {
	for _, h := range s.hooks[instanceKey{id.Space, id.Type}] {
		h.OnRemove(id, obj)
	}
}

// activeSession returns the innermost open undo session, or nil if none is
// open (mutation outside a session is still allowed but is irreversible).
func (s *Store) activeSession() *Session {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// cloneOf deep-copies obj (a *T) via a JSON round trip, so undo snapshots
// are immune to later in-place mutation of the live object. The clone is
// returned as the same concrete *T type, type-erased behind `any` so the
// undo log does not need to carry type parameters.
func cloneOf[T any](obj *T) any {
	if obj == nil {
		return (*T)(nil)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("objectdb: snapshot marshal failed: %v", err))
	}
	clone := new(T)
	if err := json.Unmarshal(b, clone); err != nil {
		panic(fmt.Sprintf("objectdb: snapshot unmarshal failed: %v", err))
	}
	return clone
}

// Create assigns the next instance for (space, typ), runs init against a
// freshly zeroed *T, inserts it, and logs the creation in the current
// session. Returns the assigned id.
func Create[T any](s *Store, space protocol.Space, typ protocol.Type, init func(*T)) (protocol.ObjectID, *T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := instanceKey{space, typ}
	instance := s.nextInstance[k]
	s.nextInstance[k] = instance + 1
	id := protocol.NewObjectID(space, typ, instance)

	obj := new(T)
	assignID(obj, id)
	init(obj)
	assignID(obj, id)
	s.objects[id] = obj

	if sess := s.activeSession(); sess != nil {
		sess.records = append(sess.records, undoRecord{kind: undoCreate, id: id})
	}
	s.fireCreate(id, obj)
	return id, obj
}

// CreateAt inserts a new object at an explicit id instead of the next
// auto-assigned instance, for the handful of sentinel objects genesis must
// place at fixed, out-of-band instances (protocol.WitnessAccountID and its
// siblings, per spec.md §3.2) rather than wherever the ordinary counter
// happens to be. It does not touch nextInstance, so it must never be used
// for an id an ordinary Create could later collide with.
func CreateAt[T any](s *Store, id protocol.ObjectID, init func(*T)) *T {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := new(T)
	assignID(obj, id)
	init(obj)
	assignID(obj, id)
	s.objects[id] = obj

	if sess := s.activeSession(); sess != nil {
		sess.records = append(sess.records, undoRecord{kind: undoCreate, id: id})
	}
	s.fireCreate(id, obj)
	return obj
}

// Get fetches the object at id, failing with errs.KindInternal
// (object_not_found, per spec.md §4.1) if absent or of the wrong type.
func Get[T any](s *Store, id protocol.ObjectID) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.objects[id]
	if !ok {
		return nil, errs.New(errs.KindInternal, fmt.Sprintf("object_not_found: %s", id))
	}
	obj, ok := raw.(*T)
	if !ok {
		return nil, errs.New(errs.KindInternal, fmt.Sprintf("object_type_mismatch: %s", id))
	}
	return obj, nil
}

// Find is the non-failing counterpart of Get.
func Find[T any](s *Store, id protocol.ObjectID) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	obj, ok := raw.(*T)
	return obj, ok
}

// Modify captures a pre-image of the object at id, applies fn in place, and
// logs the mutation in the current session (spec.md §4.1).
func Modify[T any](s *Store, id protocol.ObjectID, fn func(*T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[id]
	if !ok {
		return errs.New(errs.KindInternal, fmt.Sprintf("object_not_found: %s", id))
	}
	obj, ok := raw.(*T)
	if !ok {
		return errs.New(errs.KindInternal, fmt.Sprintf("object_type_mismatch: %s", id))
	}

	preClone := cloneOf(obj)
	oldCopy := preClone.(*T)

	fn(obj)

	if sess := s.activeSession(); sess != nil {
		sess.records = append(sess.records, undoRecord{kind: undoModify, id: id, snapshot: preClone})
	}
	s.fireModify(id, oldCopy, obj)
	return nil
}

// Remove captures a pre-image and unlinks id from the store (spec.md §4.1).
// The id is never reused, even across an undo: rollback restores the
// object but leaves the instance counter advanced.
func Remove[T any](s *Store, id protocol.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[id]
	if !ok {
		return errs.New(errs.KindInternal, fmt.Sprintf("object_not_found: %s", id))
	}
	obj, ok := raw.(*T)
	if !ok {
		return errs.New(errs.KindInternal, fmt.Sprintf("object_type_mismatch: %s", id))
	}
	pre := cloneOf(obj)
	delete(s.objects, id)

	if sess := s.activeSession(); sess != nil {
		sess.records = append(sess.records, undoRecord{kind: undoRemove, id: id, snapshot: pre})
	}
	s.fireRemove(id, raw)
	return nil
}

// All returns every currently-stored object of the given (space, type),
// snapshot of ids taken under the read lock (spec.md §5: read APIs must
// snapshot ids before iterating).
func All[T any](s *Store, space protocol.Space, typ protocol.Type) []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*T
	for id, raw := range s.objects {
		if id.Space != space || id.Type != typ {
			continue
		}
		if obj, ok := raw.(*T); ok {
			out = append(out, obj)
		}
	}
	return out
}

// GetAny fetches the raw object stored at id without requiring its static
// Go type, for read-API callers (internal/rpcapi) that dispatch on
// id.Space/id.Type at runtime rather than at compile time.
func (s *Store) GetAny(id protocol.ObjectID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.objects[id]
	return raw, ok
}
