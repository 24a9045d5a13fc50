// Package hnsw implements a Hierarchical Navigable Small World graph used as
// the graph-based approximate neighbour backend.
package hnsw

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/queue"
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Node represents a node in the HNSW graph
type Node struct {
	Connections [][]uint32 // Links to other nodes, one slice per layer
	Vector      []float32  // Vector (X dimensions)
	Layer       int        // Highest layer the node exists in
	ID          uint32     // Insertion order, equals the point index
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element during construction.
	// Reasonable range for M is 2-100. Higher M works better on datasets with high intrinsic dimensionality.
	M int

	// EF specifies the size of the dynamic candidate list during construction.
	EF int

	// EFSearch is the default candidate list size used by KNNSearch when the
	// caller passes a non-positive ef.
	EFSearch int

	// Heuristic indicates whether to use the diversity heuristic (true) or the naive K-NN selection (false).
	Heuristic bool

	// DistanceFunc represents the distance function for calculating distance between vectors.
	DistanceFunc distance.Func

	// Seed drives the level generator, making graphs reproducible.
	Seed uint64
}

// DefaultOptions are used when no option function overrides them.
var DefaultOptions = Options{
	M:            16,
	EF:           200,
	EFSearch:     128,
	Heuristic:    true,
	DistanceFunc: distance.SquaredL2,
	Seed:         1,
}

// HNSW represents the Hierarchical Navigable Small World graph
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point, a node on the top layer
	maxLevel  int     // Track the current max level used

	nodes []*Node
	rng   *rand.Rand

	opts Options

	mutex sync.RWMutex
}

// New creates a new HNSW instance with the given dimension and options
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero: 1 / log(1.0 * M)
		opts.M = 2
	}

	if opts.DistanceFunc == nil {
		opts.DistanceFunc = distance.SquaredL2
	}

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewPCG(opts.Seed, 0x9e3779b97f4a7c15)),
		opts:      opts,
	}
}

// Len returns the number of inserted vectors.
func (h *HNSW) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.nodes)
}

// Insert inserts a new element into the HNSW graph and returns its ID.
func (h *HNSW) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := uint32(len(h.nodes))
	layer := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))

	node := &Node{
		ID:          id,
		Vector:      vectorCopy,
		Layer:       layer,
		Connections: make([][]uint32, layer+1),
	}

	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, node)
		h.ep = id
		h.maxLevel = layer
		return id, nil
	}

	// Find single shortest path from top layers above our current node, which will be our new starting-point
	ep := h.greedyDescend(vectorCopy, layer)

	for level := min(layer, h.maxLevel); level >= 0; level-- {
		candidates := h.searchLayer(vectorCopy, ep, h.opts.EF, level).Sorted()
		ep = candidates[0]

		node.Connections[level] = h.selectNeighbours(candidates, h.opts.M)
	}

	h.nodes = append(h.nodes, node)

	// Next link the neighbour nodes to our new node, making it visible
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			h.link(neighbour, id, level)
		}
	}

	if layer > h.maxLevel {
		h.ep = id
		h.maxLevel = layer
	}

	return id, nil
}

// greedyDescend walks from the entry point down to (but not including)
// stopLevel, always moving to the closest neighbour.
func (h *HNSW) greedyDescend(q []float32, stopLevel int) queue.Item {
	currObj := h.nodes[h.ep]
	currDist := h.opts.DistanceFunc(q, currObj.Vector)

	for level := h.maxLevel; level > stopLevel; level-- {
		changed := true
		for changed {
			changed = false

			for _, nodeID := range currObj.Connections[level] {
				newObj := h.nodes[nodeID]

				if d := h.opts.DistanceFunc(q, newObj.Vector); d < currDist {
					currObj = newObj
					currDist = d
					changed = true
				}
			}
		}
	}

	return queue.Item{Node: currObj.ID, Distance: currDist}
}

// KNNSearch returns the k approximate nearest neighbours of q ordered by
// ascending distance. ef <= 0 uses Options.EFSearch.
func (h *HNSW) KNNSearch(q []float32, k int, ef int) ([]queue.Item, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if len(h.nodes) == 0 || k <= 0 {
		return nil, nil
	}

	if ef <= 0 {
		ef = h.opts.EFSearch
	}

	ep := h.greedyDescend(q, 0)
	top := h.searchLayer(q, ep, max(ef, k), 0)

	for top.Len() > k {
		top.PopItem()
	}

	return top.Sorted(), nil
}

// BruteSearch performs an exhaustive search over all inserted vectors.
func (h *HNSW) BruteSearch(q []float32, k int) ([]queue.Item, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	top := queue.NewMax(k)
	for _, node := range h.nodes {
		top.PushBounded(queue.Item{Node: node.ID, Distance: h.opts.DistanceFunc(q, node.Vector)}, k)
	}

	return top.Sorted(), nil
}

// link adds a connection first -> second on level, shrinking the
// neighbour list when it exceeds the layer's capacity.
func (h *HNSW) link(first uint32, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) <= maxConnections {
		return
	}

	candidates := queue.NewMin(len(node.Connections[level]))
	for _, id := range node.Connections[level] {
		candidates.PushItem(queue.Item{Node: id, Distance: h.opts.DistanceFunc(node.Vector, h.nodes[id].Vector)})
	}

	node.Connections[level] = h.selectNeighbours(candidates.Sorted(), maxConnections)
}

// searchLayer performs a best-first search in a single layer and returns a
// max-heap holding the ef closest nodes found.
func (h *HNSW) searchLayer(q []float32, ep queue.Item, ef int, level int) *queue.PriorityQueue {
	visited := bitset.New(uint(len(h.nodes)))
	visited.Set(uint(ep.Node))

	candidates := queue.NewMin(ef)
	candidates.PushItem(ep)

	topCandidates := queue.NewMax(ef + 1)
	topCandidates.PushItem(ep)

	for candidates.Len() > 0 {
		candidate := candidates.PopItem()
		if candidate.Distance > topCandidates.Top().Distance {
			break
		}

		node := h.nodes[candidate.Node]
		if len(node.Connections) <= level {
			continue
		}

		for _, n := range node.Connections[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := h.opts.DistanceFunc(q, h.nodes[n].Vector)

			if topCandidates.Len() < ef || d < topCandidates.Top().Distance {
				item := queue.Item{Node: n, Distance: d}
				candidates.PushItem(item)
				topCandidates.PushItem(item)

				if topCandidates.Len() > ef {
					topCandidates.PopItem()
				}
			}
		}
	}

	return topCandidates
}

// selectNeighbours picks up to m neighbours from candidates sorted by
// ascending distance.
func (h *HNSW) selectNeighbours(sorted []queue.Item, m int) []uint32 {
	if !h.opts.Heuristic || len(sorted) <= m {
		n := min(m, len(sorted))
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = sorted[i].Node
		}
		return out
	}

	selected := make([]queue.Item, 0, m)
	var pruned []queue.Item

	for _, item := range sorted {
		if len(selected) >= m {
			break
		}

		hit := true
		for _, s := range selected {
			if h.opts.DistanceFunc(h.nodes[s.Node].Vector, h.nodes[item.Node].Vector) < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			selected = append(selected, item)
		} else {
			pruned = append(pruned, item)
		}
	}

	// Keep pruned connections to fill up to m.
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}

	out := make([]uint32, len(selected))
	for i, s := range selected {
		out[i] = s.Node
	}
	return out
}

// Stats describes the shape of the graph.
type Stats struct {
	Nodes          int
	MaxLevel       int
	NodesPerLevel  []int
	AvgConnections []float64
}

// Stats returns statistics about the HNSW graph.
func (h *HNSW) Stats() Stats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s := Stats{
		Nodes:          len(h.nodes),
		MaxLevel:       h.maxLevel,
		NodesPerLevel:  make([]int, h.maxLevel+1),
		AvgConnections: make([]float64, h.maxLevel+1),
	}

	conns := make([]int, h.maxLevel+1)
	for _, n := range h.nodes {
		for level := 0; level <= n.Layer; level++ {
			s.NodesPerLevel[level]++
			conns[level] += len(n.Connections[level])
		}
	}

	for level := range conns {
		if s.NodesPerLevel[level] > 0 {
			s.AvgConnections[level] = float64(conns[level]) / float64(s.NodesPerLevel[level])
		}
	}

	return s
}
