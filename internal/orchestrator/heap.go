package orchestrator

import "container/heap"

// unitHeap orders queued units: triggered first, then priority ascending,
// then submission order.
type unitHeap []*tracked

func (h unitHeap) Len() int { return len(h) }

func (h unitHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.triggered != b.triggered {
		return a.triggered
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (h unitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *unitHeap) Push(x any) {
	t := x.(*tracked)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *unitHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *unitHeap) peek() *tracked {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *unitHeap) remove(t *tracked) {
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Remove(h, t.index)
	}
}
