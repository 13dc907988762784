package objectdb

import (
	"testing"

	"dexchaind/internal/protocol"
)

type widget struct {
	ID    protocol.ObjectID
	Value int
}

func TestCreateAssignsSequentialInstances(t *testing.T) {
	s := New()
	id0, w0 := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 10 })
	id1, w1 := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 20 })

	if id0.Instance != 0 || id1.Instance != 1 {
		t.Fatalf("instances = %d, %d, want 0, 1", id0.Instance, id1.Instance)
	}
	if w0.ID != id0 || w1.ID != id1 {
		t.Error("Create did not assign the object's own ID field")
	}
	if w0.Value != 10 || w1.Value != 20 {
		t.Error("Create did not run init")
	}

	// A different (space, type) pair gets its own independent counter.
	otherID, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAsset, func(*widget) {})
	if otherID.Instance != 0 {
		t.Errorf("independent (space,type) counter = %d, want 0", otherID.Instance)
	}
}

func TestCreateAtDoesNotAdvanceNextInstance(t *testing.T) {
	s := New()
	fixed := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 0xFFFFFFFFFFFE)
	w := CreateAt(s, fixed, func(w *widget) { w.Value = 99 })
	if w.ID != fixed || w.Value != 99 {
		t.Fatal("CreateAt did not place the object at the requested id with init applied")
	}

	id, _ := Create(s, protocol.SpaceProtocol, protocol.TypeAccount, func(*widget) {})
	if id.Instance != 0 {
		t.Errorf("ordinary Create after CreateAt got instance %d, want 0 (CreateAt must not touch nextInstance)", id.Instance)
	}
}

func TestGetAndFind(t *testing.T) {
	s := New()
	id, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 5 })

	got, err := Get[widget](s, id)
	if err != nil || got.Value != 5 {
		t.Fatalf("Get(%v) = %v, %v", id, got, err)
	}

	missing := protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeAccount, 999)
	if _, err := Get[widget](s, missing); err == nil {
		t.Error("Get on a missing id should fail")
	}
	if _, ok := Find[widget](s, missing); ok {
		t.Error("Find on a missing id should report ok=false")
	}
	if v, ok := Find[widget](s, id); !ok || v.Value != 5 {
		t.Errorf("Find(%v) = %v, %v, want 5, true", id, v, ok)
	}
}

func TestModifyAndRemove(t *testing.T) {
	s := New()
	id, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 1 })

	if err := Modify(s, id, func(w *widget) { w.Value = 2 }); err != nil {
		t.Fatal(err)
	}
	if got, _ := Get[widget](s, id); got.Value != 2 {
		t.Errorf("Value after Modify = %d, want 2", got.Value)
	}

	missing := protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeAccount, 999)
	if err := Modify(s, missing, func(*widget) {}); err == nil {
		t.Error("Modify on a missing id should fail")
	}

	if err := Remove[widget](s, id); err != nil {
		t.Fatal(err)
	}
	if _, err := Get[widget](s, id); err == nil {
		t.Error("object should be gone after Remove")
	}
	if err := Remove[widget](s, id); err == nil {
		t.Error("Remove on an already-removed id should fail")
	}
}

func TestAllSnapshotsByTypeAndSpace(t *testing.T) {
	s := New()
	Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 1 })
	Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 2 })
	Create(s, protocol.SpaceImplementation, protocol.TypeAsset, func(w *widget) { w.Value = 3 })

	got := All[widget](s, protocol.SpaceImplementation, protocol.TypeAccount)
	if len(got) != 2 {
		t.Fatalf("All returned %d objects, want 2", len(got))
	}
	sum := 0
	for _, w := range got {
		sum += w.Value
	}
	if sum != 3 {
		t.Errorf("sum of values = %d, want 3", sum)
	}
}

func TestUndoSessionDiscard(t *testing.T) {
	s := New()
	keepID, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 1 })

	sess := s.StartUndoSession()
	newID, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 2 })
	if err := Modify(s, keepID, func(w *widget) { w.Value = 100 }); err != nil {
		t.Fatal(err)
	}
	removedID, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 3 })
	if err := Remove[widget](s, removedID); err != nil {
		t.Fatal(err)
	}
	sess.Discard()

	if _, err := Get[widget](s, newID); err == nil {
		t.Error("created-then-discarded object should not exist")
	}
	if got, err := Get[widget](s, keepID); err != nil || got.Value != 1 {
		t.Errorf("modified-then-discarded object = %v, %v, want Value=1", got, err)
	}
	if got, err := Get[widget](s, removedID); err != nil || got.Value != 3 {
		t.Errorf("removed-then-discarded object = %v, %v, want restored with Value=3", got, err)
	}
}

func TestUndoSessionCommitMergesIntoParent(t *testing.T) {
	s := New()
	outer := s.StartUndoSession()
	inner := s.StartUndoSession()
	id, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(w *widget) { w.Value = 7 })
	inner.Commit()

	// The create is now recorded against outer; discarding outer should
	// still reverse it even though inner already closed.
	outer.Discard()
	if _, err := Get[widget](s, id); err == nil {
		t.Error("create committed into parent should still be reversed by the parent's discard")
	}
}

func TestChangedIDsDeduplicatesInFirstTouchedOrder(t *testing.T) {
	s := New()
	id1, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(*widget) {})
	id2, _ := Create(s, protocol.SpaceImplementation, protocol.TypeAccount, func(*widget) {})

	sess := s.StartUndoSession()
	Modify(s, id1, func(w *widget) { w.Value = 1 })
	Modify(s, id2, func(w *widget) { w.Value = 2 })
	Modify(s, id1, func(w *widget) { w.Value = 3 })

	changed := sess.ChangedIDs()
	if len(changed) != 2 || changed[0] != id1 || changed[1] != id2 {
		t.Errorf("ChangedIDs = %v, want [%v %v]", changed, id1, id2)
	}
	sess.Commit()
}
