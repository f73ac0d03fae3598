// Package deadlock implements the wait-for graph and cycle detector:
// add_wait/remove_transaction/detect, with youngest-transaction-in-cycle
// victim selection. Grounded on Jekaa-go-mvcc-map/mvcc/deadlock.go's
// wait-for-graph/DFS shape, adapted from a ticker-driven background
// sweep to a synchronous Detect call that internal/txn invokes whenever
// a lock acquisition conflicts.
package deadlock

import "sync"

// Edge is a single (waiter, holder, resource) wait-for relationship.
type Edge struct {
	Waiter   uint64
	Holder   uint64
	Resource string
}

// Detector owns the current set of wait-for edges plus each known
// transaction's start time, needed to pick the youngest victim.
type Detector struct {
	mu        sync.Mutex
	edges     []Edge
	startTime map[uint64]int64 // logical start order; lower registered earlier
	seq       int64
}

func New() *Detector {
	return &Detector{startTime: make(map[uint64]int64)}
}

// Register records tx's relative start order, used to break ties toward
// the youngest (most recently started) transaction during victim
// selection.
func (d *Detector) Register(tx uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.startTime[tx]; ok {
		return
	}
	d.seq++
	d.startTime[tx] = d.seq
}

// AddWait records that waiter is waiting on holder for resource.
func (d *Detector) AddWait(waiter, holder uint64, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edges = append(d.edges, Edge{Waiter: waiter, Holder: holder, Resource: resource})
}

// RemoveTransaction drops every edge where tx is the waiter or the
// holder (called once a transaction's lock request resolves or the
// transaction ends).
func (d *Detector) RemoveTransaction(tx uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.edges[:0]
	for _, e := range d.edges {
		if e.Waiter != tx && e.Holder != tx {
			kept = append(kept, e)
		}
	}
	d.edges = kept
}

// RemoveWaitsFrom drops only the edges where tx is the waiter, used once
// a lock acquisition it was waiting on succeeds.
func (d *Detector) RemoveWaitsFrom(tx uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.edges[:0]
	for _, e := range d.edges {
		if e.Waiter != tx {
			kept = append(kept, e)
		}
	}
	d.edges = kept
}

// Detect runs DFS from every waiter looking for a cycle. A self-loop
// (waiter == holder) counts as a cycle of length 1. When a cycle is
// found, the victim is the transaction in the cycle with the latest
// start order (youngest); detection is deterministic given the same
// edge set and start-time table, satisfying invariant 8 (stable victim
// selection).
func (d *Detector) Detect() (victim uint64, found bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	graph := make(map[uint64][]uint64)
	for _, e := range d.edges {
		graph[e.Waiter] = append(graph[e.Waiter], e.Holder)
	}

	waiters := make([]uint64, 0, len(graph))
	for w := range graph {
		waiters = append(waiters, w)
	}
	sortUint64(waiters)

	for _, w := range waiters {
		if cycle, ok := d.findCycle(graph, w); ok {
			return d.youngestInCycle(cycle), true
		}
	}
	return 0, false
}

func (d *Detector) findCycle(graph map[uint64][]uint64, start uint64) ([]uint64, bool) {
	visited := make(map[uint64]bool)
	inStack := make(map[uint64]bool)
	var path []uint64

	var dfs func(node uint64) ([]uint64, bool)
	dfs = func(node uint64) ([]uint64, bool) {
		visited[node] = true
		inStack[node] = true
		path = append(path, node)

		for _, next := range graph[node] {
			if next == node {
				return []uint64{node}, true
			}
			if inStack[next] {
				for i, p := range path {
					if p == next {
						cycle := append([]uint64(nil), path[i:]...)
						return cycle, true
					}
				}
				return path, true
			}
			if !visited[next] {
				if cyc, ok := dfs(next); ok {
					return cyc, true
				}
			}
		}

		path = path[:len(path)-1]
		inStack[node] = false
		return nil, false
	}

	return dfs(start)
}

func (d *Detector) youngestInCycle(cycle []uint64) uint64 {
	var victim uint64
	var best int64 = -1
	for _, tx := range cycle {
		if seq, ok := d.startTime[tx]; ok && seq > best {
			best = seq
			victim = tx
		} else if !ok && best == -1 {
			victim = tx
		}
	}
	return victim
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
