package deadlock

import "testing"

func TestNoCycleWhenNoWaits(t *testing.T) {
	d := New()
	d.Register(1)
	d.Register(2)
	d.AddWait(1, 2, "users")

	_, found := d.Detect()
	if found {
		t.Fatalf("expected no cycle")
	}
}

func TestSelfLoopIsCycle(t *testing.T) {
	d := New()
	d.Register(1)
	d.AddWait(1, 1, "users")

	victim, found := d.Detect()
	if !found || victim != 1 {
		t.Fatalf("expected self-loop cycle with victim 1, got %d found=%v", victim, found)
	}
}

// TestMutualExclusiveLockCycle mirrors scenario S3: tx1 holds an
// Exclusive lock on table A and waits on tx2's Exclusive lock on table
// B, while tx2 holds B and waits on tx1's lock on A. The younger
// transaction (tx2, registered second) must be chosen as the victim.
func TestMutualExclusiveLockCycle(t *testing.T) {
	d := New()
	d.Register(1)
	d.Register(2)
	d.AddWait(1, 2, "tableB")
	d.AddWait(2, 1, "tableA")

	victim, found := d.Detect()
	if !found {
		t.Fatalf("expected a cycle")
	}
	if victim != 2 {
		t.Fatalf("expected youngest transaction (2) as victim, got %d", victim)
	}
}

// TestStableVictimSelection verifies invariant 8: for a fixed wait-for
// graph, Detect returns the same victim on every call.
func TestStableVictimSelection(t *testing.T) {
	d := New()
	d.Register(10)
	d.Register(20)
	d.Register(30)
	d.AddWait(10, 20, "a")
	d.AddWait(20, 30, "b")
	d.AddWait(30, 10, "c")

	victim, found := d.Detect()
	if !found {
		t.Fatalf("expected a cycle")
	}
	for i := 0; i < 5; i++ {
		v, ok := d.Detect()
		if !ok || v != victim {
			t.Fatalf("victim selection unstable: got %d (found=%v), want %d", v, ok, victim)
		}
	}
	if victim != 30 {
		t.Fatalf("expected youngest transaction (30) as victim, got %d", victim)
	}
}

func TestRemoveTransactionBreaksCycle(t *testing.T) {
	d := New()
	d.Register(1)
	d.Register(2)
	d.AddWait(1, 2, "tableB")
	d.AddWait(2, 1, "tableA")

	d.RemoveTransaction(2)

	_, found := d.Detect()
	if found {
		t.Fatalf("expected no cycle after removing a participant")
	}
}

func TestRemoveWaitsFromOnlyDropsWaiterEdges(t *testing.T) {
	d := New()
	d.Register(1)
	d.Register(2)
	d.AddWait(1, 2, "tableB")
	d.AddWait(2, 1, "tableA")

	d.RemoveWaitsFrom(1)

	_, found := d.Detect()
	if found {
		t.Fatalf("expected no cycle once tx1 stops waiting")
	}
}
