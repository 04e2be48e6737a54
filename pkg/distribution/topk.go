package distribution

import (
	"cmp"
	"container/heap"
	"slices"
)

type ranked struct {
	identity string
	amount   uint64
}

// minHeap keeps the smallest retained amount at index 0.
type minHeap []ranked

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].amount < h[j].amount }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(ranked)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK retains the limit highest amounts seen. A limit of 0 retains everything.
type TopK struct {
	limit int
	items minHeap
}

func NewTopK(limit int) *TopK {
	if limit < 0 {
		limit = 0
	}
	capacity := limit
	if capacity == 0 || capacity > 1<<16 {
		capacity = 1 << 10
	}
	return &TopK{limit: limit, items: make(minHeap, 0, capacity)}
}

// Offer inserts the candidate if there is room, or evicts the current minimum when
// amount is strictly greater. It reports whether the candidate was retained.
func (t *TopK) Offer(identity string, amount uint64) bool {
	if t.limit == 0 {
		t.items = append(t.items, ranked{identity: identity, amount: amount})
		return true
	}
	if len(t.items) < t.limit {
		heap.Push(&t.items, ranked{identity: identity, amount: amount})
		return true
	}
	if amount <= t.items[0].amount {
		return false
	}
	t.items[0] = ranked{identity: identity, amount: amount}
	heap.Fix(&t.items, 0)
	return true
}

func (t *TopK) Len() int { return len(t.items) }

// Min returns the smallest retained amount.
func (t *TopK) Min() (uint64, bool) {
	if len(t.items) == 0 {
		return 0, false
	}
	if t.limit == 0 {
		return slices.MinFunc(t.items, func(a, b ranked) int { return cmp.Compare(a.amount, b.amount) }).amount, true
	}
	return t.items[0].amount, true
}

// Drain returns the retained entries by descending amount and empties the selector.
// Equal amounts are ordered by identity bytes so a given retained set always drains the same way.
func (t *TopK) Drain() []ranked {
	out := t.items
	t.items = nil
	slices.SortFunc(out, func(a, b ranked) int {
		if c := cmp.Compare(b.amount, a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.identity, b.identity)
	})
	return out
}
