// Package queue provides the bounded priority queues used by neighbour search.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// Item is an entry in the priority queue.
type Item struct {
	Node     uint32  // Node is the point index.
	Distance float32 // Distance is the priority of the item.
}

// PriorityQueue implements heap.Interface over Items.
// With Order == false it is a min-heap on Distance, otherwise a max-heap.
type PriorityQueue struct {
	Order bool
	Items []Item
}

// NewMin returns an empty min-heap with room for capacity items.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{Items: make([]Item, 0, capacity)}
}

// NewMax returns an empty max-heap with room for capacity items.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{Order: true, Items: make([]Item, 0, capacity)}
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.Items[i], pq.Items[j]
	if a.Distance == b.Distance {
		// Stable tie-break keeps results reproducible across runs.
		if pq.Order {
			return a.Node > b.Node
		}
		return a.Node < b.Node
	}
	if pq.Order {
		return a.Distance > b.Distance
	}
	return a.Distance < b.Distance
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	pq.Items = append(pq.Items, x.(Item))
}

// Pop removes and returns the last element of the backing slice.
func (pq *PriorityQueue) Pop() any {
	n := len(pq.Items)
	item := pq.Items[n-1]
	pq.Items = pq.Items[:n-1]
	return item
}

// Top returns the top element of the priority queue.
func (pq *PriorityQueue) Top() Item {
	return pq.Items[0]
}

// PushItem pushes an item, keeping heap order.
func (pq *PriorityQueue) PushItem(it Item) {
	heap.Push(pq, it)
}

// PopItem removes and returns the top item.
func (pq *PriorityQueue) PopItem() Item {
	return heap.Pop(pq).(Item)
}

// PushBounded pushes it into a max-heap holding at most k items, evicting the
// current worst when full. Returns true if the item was kept.
func (pq *PriorityQueue) PushBounded(it Item, k int) bool {
	if pq.Len() < k {
		heap.Push(pq, it)
		return true
	}
	if k == 0 || it.Distance >= pq.Items[0].Distance {
		return false
	}
	pq.Items[0] = it
	heap.Fix(pq, 0)
	return true
}

// Sorted drains the queue and returns its items ordered by ascending distance.
func (pq *PriorityQueue) Sorted() []Item {
	out := make([]Item, pq.Len())
	if pq.Order {
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = pq.PopItem()
		}
	} else {
		for i := range out {
			out[i] = pq.PopItem()
		}
	}
	return out
}
