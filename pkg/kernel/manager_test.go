package kernel

import (
	"testing"

	"github.com/rvkernel/proccore/pkg/mm"
	"github.com/rvkernel/proccore/pkg/procid"
)

func newTestProcess(t *testing.T, alloc *procid.Allocator) *Process {
	t.Helper()
	id, err := alloc.New()
	if err != nil {
		t.Fatalf("alloc.New: %v", err)
	}
	return &Process{ID: id, AS: mm.New()}
}

func TestInsertTracksFirstOrphanAsInit(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	// Use up pid 0 so that init's PID differs from the zero initPID an
	// unrecorded init would leave behind.
	if _, err := alloc.New(); err != nil {
		t.Fatalf("alloc.New: %v", err)
	}

	init := newTestProcess(t, alloc)
	mgr.Insert(init, procid.NoParent)
	mgr.AddReady(init.ID.Int32())

	child := newTestProcess(t, alloc)
	mgr.Insert(child, init.ID.Int32())
	mgr.AddReady(child.ID.Int32())

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected init")
	}
	mgr.MakeCurrentExited(0)

	// init's exit reparents its child to the recorded init PID, so the
	// child's parent shows whether init was recorded on Insert.
	for _, s := range mgr.Snapshot() {
		if s.PID == child.ID.Int32() && s.Parent != init.ID.Int32() {
			t.Fatalf("child parent = %d, want recorded init %d", s.Parent, init.ID.Int32())
		}
	}
	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected child")
	}
}

func TestAddReadyPanicsOnDuplicate(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)
	p := newTestProcess(t, alloc)
	mgr.Insert(p, procid.NoParent)
	mgr.AddReady(p.ID.Int32())

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on double AddReady")
		}
	}()
	mgr.AddReady(p.ID.Int32())
}

func TestFetchNextIsFIFO(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)
	a := newTestProcess(t, alloc)
	b := newTestProcess(t, alloc)
	c := newTestProcess(t, alloc)
	mgr.Insert(a, procid.NoParent)
	mgr.Insert(b, procid.NoParent)
	mgr.Insert(c, procid.NoParent)
	mgr.AddReady(a.ID.Int32())
	mgr.AddReady(b.ID.Int32())
	mgr.AddReady(c.ID.Int32())

	var order []int32
	for i := 0; i < 3; i++ {
		p, ok := mgr.FetchNext()
		if !ok {
			t.Fatalf("FetchNext: expected a process at index %d", i)
		}
		order = append(order, p.ID.Int32())
	}
	want := []int32{a.ID.Int32(), b.ID.Int32(), c.ID.Int32()}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestMakeCurrentExitedReparentsChildrenToInitInPIDOrder(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	init := newTestProcess(t, alloc)
	mgr.Insert(init, procid.NoParent)

	parent := newTestProcess(t, alloc)
	mgr.Insert(parent, init.ID.Int32())
	mgr.AddReady(parent.ID.Int32())

	childA := newTestProcess(t, alloc)
	childB := newTestProcess(t, alloc)
	mgr.Insert(childA, parent.ID.Int32())
	mgr.Insert(childB, parent.ID.Int32())

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected parent")
	}
	mgr.MakeCurrentExited(7)

	snap := mgr.Snapshot()
	found := map[int32]ProcSnapshot{}
	for _, s := range snap {
		found[s.PID] = s
	}
	for _, kid := range []int32{childA.ID.Int32(), childB.ID.Int32()} {
		s, ok := found[kid]
		if !ok {
			t.Fatalf("child %d missing from snapshot", kid)
		}
		if s.Parent != init.ID.Int32() {
			t.Fatalf("child %d parent = %d, want init %d", kid, s.Parent, init.ID.Int32())
		}
	}

	parentSnap, ok := found[parent.ID.Int32()]
	if !ok || parentSnap.State != StateZombie || parentSnap.Code != 7 {
		t.Fatalf("parent snapshot = %+v, want zombie with code 7", parentSnap)
	}
}

func TestWaitSpecificTargetFoundThenNoChild(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	parent := newTestProcess(t, alloc)
	mgr.Insert(parent, procid.NoParent)
	mgr.AddReady(parent.ID.Int32())

	child := newTestProcess(t, alloc)
	mgr.Insert(child, parent.ID.Int32())
	mgr.AddReady(child.ID.Int32())

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected parent")
	}
	mgr.MakeCurrentSuspend()

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected child")
	}
	mgr.MakeCurrentExited(42)

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected parent again")
	}

	id, code, status := mgr.Wait(child.ID.Int32())
	if status != WaitFound || code != 42 || id.Int32() != child.ID.Int32() {
		t.Fatalf("Wait(child) = %v, %d, %v", id, code, status)
	}

	_, _, status = mgr.Wait(child.ID.Int32())
	if status != WaitNoChild {
		t.Fatalf("Wait(child) after reap = %v, want WaitNoChild", status)
	}
}

func TestWaitWildcardReportsAgainWhileChildLive(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	parent := newTestProcess(t, alloc)
	mgr.Insert(parent, procid.NoParent)
	mgr.AddReady(parent.ID.Int32())

	child := newTestProcess(t, alloc)
	mgr.Insert(child, parent.ID.Int32())

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected parent")
	}

	_, _, status := mgr.Wait(-1)
	if status != WaitAgain {
		t.Fatalf("Wait(-1) = %v, want WaitAgain", status)
	}
}

func TestWaitWildcardNoChildWhenCallerHasNone(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)
	lonely := newTestProcess(t, alloc)
	mgr.Insert(lonely, procid.NoParent)
	mgr.AddReady(lonely.ID.Int32())

	if _, ok := mgr.FetchNext(); !ok {
		t.Fatalf("FetchNext: expected lonely")
	}
	_, _, status := mgr.Wait(-1)
	if status != WaitNoChild {
		t.Fatalf("Wait(-1) = %v, want WaitNoChild", status)
	}
}
