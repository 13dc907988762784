package objectdb

import "dexchaind/internal/protocol"

type undoKind byte

const (
	undoCreate undoKind = iota
	undoModify
	undoRemove
)

// undoRecord captures enough to reverse exactly one mutation. snapshot is
// the type-erased pre-image *T (nil for undoCreate, since there was no
// pre-image to restore — reversal just deletes the id again).
type undoRecord struct {
	kind     undoKind
	id       protocol.ObjectID
	snapshot any
}

// Session is a nested, RAII-style undo scope (spec.md §4.1). Every mutation
// performed between StartUndoSession and the session's disposal (Commit or
// Discard) is reversible. Sessions nest strictly: committing merges this
// session's log into its parent; discarding replays the log in LIFO order.
type Session struct {
	store   *Store
	records []undoRecord
	closed  bool
}

// StartUndoSession opens a new nested session on top of the store's
// current session stack.
func (s *Store) StartUndoSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{store: s}
	s.stack = append(s.stack, sess)
	return sess
}

// Commit absorbs this session's log into its parent (or, if this is the
// outermost session, simply closes it — the mutations become permanent).
// Commit and Merge are the same operation, matching spec.md §4.1's "commit
// (absorbs log into parent), merge (same as commit)".
func (sess *Session) Commit() {
	sess.Merge()
}

// Merge is Commit's name in spec.md's own vocabulary; both pop this session
// off the stack and append its records onto the new top (the parent).
func (sess *Session) Merge() {
	s := sess.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	s.popSessionLocked(sess)
	if parent := s.activeSession(); parent != nil {
		parent.records = append(parent.records, sess.records...)
	}
}

// Discard reverses every recorded delta in LIFO order, then closes the
// session. This is what an undo session does when dropped without commit,
// and what pop_block uses to revert the most recent block (spec.md §4.1,
// §4.6).
func (sess *Session) Discard() {
	s := sess.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	s.popSessionLocked(sess)
	for i := len(sess.records) - 1; i >= 0; i-- {
		r := sess.records[i]
		switch r.kind {
		case undoCreate:
			delete(s.objects, r.id)
		case undoModify, undoRemove:
			s.objects[r.id] = r.snapshot
		}
	}
}

// ChangedIDs returns the deduplicated ids this session has recorded a
// mutation for, in first-touched order (spec.md §5: "changed_objects fires
// with the deduplicated id list from the undo head"). Safe to call on an
// open session; it only reads the log.
func (sess *Session) ChangedIDs() []protocol.ObjectID {
	seen := map[protocol.ObjectID]struct{}{}
	var out []protocol.ObjectID
	for _, r := range sess.records {
		if _, ok := seen[r.id]; ok {
			continue
		}
		seen[r.id] = struct{}{}
		out = append(out, r.id)
	}
	return out
}

// popSessionLocked removes sess from the stack. sess must be the topmost
// *committed* session per spec.md §4.1; callers (pop_block) are expected to
// only ever discard the innermost open session, matching the nesting
// discipline the rest of the pipeline maintains.
func (s *Store) popSessionLocked(sess *Session) {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == sess {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			return
		}
	}
}
