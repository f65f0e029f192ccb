package network

import (
	"container/heap"
	"sort"
)

// Topology is an immutable, validated reach graph with a precomputed
// processing order. Reach indices used by the accessors are ranks: position
// in Order(). It is safe for concurrent read access.
type Topology struct {
	nodes  []*Node // by rank
	byID   map[string]int
	up     [][]int // by rank, ascending
	down   []int   // by rank, -1 for outlets
	levels [][]int // level -> ranks, ascending
}

// Build validates the records and computes a deterministic topological order.
//
// Ties between reaches with no dependency relation are broken by ascending
// reach ID, so repeated builds from the same input yield the same order.
// Build rejects:
//   - empty or duplicate reach IDs (ErrMalformedRecord)
//   - downstream IDs that are not in the input (ErrDanglingReference)
//   - self loops and longer cycles (ErrCycleDetected)
func Build(records []Record) (*Topology, error) {
	if len(records) == 0 {
		return nil, malformedf("", "no reaches")
	}

	ids := make([]string, 0, len(records))
	downOf := make(map[string]string, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, malformedf("", "reach id is required")
		}
		if _, dup := downOf[r.ID]; dup {
			return nil, malformedf(r.ID, "duplicate reach id")
		}
		downOf[r.ID] = r.Downstream
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)

	canon := make(map[string]int, len(ids))
	for i, id := range ids {
		canon[id] = i
	}

	down := make([]int, len(ids))
	indeg := make([]int, len(ids))
	for i, id := range ids {
		ds := downOf[id]
		if ds == "" {
			down[i] = -1
			continue
		}
		j, ok := canon[ds]
		if !ok {
			return nil, danglingf(id, "downstream reach %q does not exist", ds)
		}
		if j == i {
			return nil, cycleError([]string{id, id})
		}
		down[i] = j
		indeg[j]++
	}

	order := kahn(down, indeg)
	if len(order) != len(ids) {
		return nil, cycleError(findCycle(ids, down, order))
	}

	t := &Topology{
		nodes: make([]*Node, len(ids)),
		byID:  make(map[string]int, len(ids)),
		up:    make([][]int, len(ids)),
		down:  make([]int, len(ids)),
	}
	rankOf := make([]int, len(ids))
	for rank, c := range order {
		rankOf[c] = rank
	}
	for rank, c := range order {
		t.nodes[rank] = &Node{ID: ids[c], Rank: rank}
		t.byID[ids[c]] = rank
		t.down[rank] = -1
		if down[c] >= 0 {
			t.down[rank] = rankOf[down[c]]
			t.nodes[rank].Downstream = ids[down[c]]
		}
	}
	for rank, d := range t.down {
		if d >= 0 {
			t.up[d] = append(t.up[d], rank)
		}
	}
	for rank, n := range t.nodes {
		sort.Ints(t.up[rank])
		level := 0
		for _, u := range t.up[rank] {
			n.Upstream = append(n.Upstream, t.nodes[u].ID)
			if l := t.nodes[u].Level + 1; l > level {
				level = l
			}
		}
		sort.Strings(n.Upstream)
		n.Level = level
		for len(t.levels) <= level {
			t.levels = append(t.levels, nil)
		}
		t.levels[level] = append(t.levels[level], rank)
	}
	return t, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// kahn peels zero in-degree reaches, smallest canonical index first.
func kahn(down, indeg []int) []int {
	remaining := make([]int, len(indeg))
	copy(remaining, indeg)

	ready := &intMinHeap{}
	for i, d := range remaining {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(remaining))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		if d := down[n]; d >= 0 {
			remaining[d]--
			if remaining[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}
	return out
}

// findCycle returns one stable cycle witness among the reaches Kahn could not
// peel. Every such reach has a downstream, so walking downstream from the
// smallest one must revisit a reach.
func findCycle(ids []string, down, peeled []int) []string {
	done := make([]bool, len(ids))
	for _, c := range peeled {
		done[c] = true
	}
	start := -1
	for i := range ids {
		if !done[i] {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	seen := make(map[int]int)
	var walk []int
	for cur := start; cur >= 0; cur = down[cur] {
		if at, ok := seen[cur]; ok {
			walk = walk[at:]
			break
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)
	}
	// rotate so the witness starts at its smallest reach
	lo := 0
	for i, c := range walk {
		if c < walk[lo] {
			lo = i
		}
	}
	path := make([]string, 0, len(walk)+1)
	for i := range walk {
		path = append(path, ids[walk[(lo+i)%len(walk)]])
	}
	return append(path, path[0])
}

// Len returns the number of reaches.
func (t *Topology) Len() int { return len(t.nodes) }

// Node returns a reach by ID.
func (t *Topology) Node(id string) (*Node, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return t.nodes[i], true
}

// At returns the reach at the given rank.
func (t *Topology) At(rank int) *Node { return t.nodes[rank] }

// Index returns the rank of a reach.
func (t *Topology) Index(id string) (int, bool) {
	i, ok := t.byID[id]
	return i, ok
}

// Order returns reach IDs in processing order.
func (t *Topology) Order() []string {
	out := make([]string, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.ID
	}
	return out
}

// Levels returns the level partition as ranks. Level 0 holds headwaters;
// every reach in level k has all of its upstream reaches in levels < k.
func (t *Topology) Levels() [][]int { return t.levels }

// Upstream returns the ranks of the direct upstream reaches of rank i.
func (t *Topology) Upstream(i int) []int { return t.up[i] }

// Downstream returns the rank of the downstream reach of rank i, or -1.
func (t *Topology) Downstream(i int) int { return t.down[i] }

// Outlets returns the IDs of reaches with no downstream, in order.
func (t *Topology) Outlets() []string {
	var out []string
	for _, n := range t.nodes {
		if n.IsOutlet() {
			out = append(out, n.ID)
		}
	}
	return out
}

// Headwaters returns the IDs of reaches with no upstream, in order.
func (t *Topology) Headwaters() []string {
	var out []string
	for _, n := range t.nodes {
		if n.IsHeadwater() {
			out = append(out, n.ID)
		}
	}
	return out
}
