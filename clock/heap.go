package clock

import "container/heap"

// overflowHeap is a container/heap.Interface wrapping a slice of
// Scheduleable items, ordered earliest-time-first.
type overflowHeap[T Scheduleable] []T

func (h overflowHeap[T]) Len() int            { return len(h) }
func (h overflowHeap[T]) Less(i, j int) bool  { return h[i].Time() < h[j].Time() }
func (h overflowHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *overflowHeap[T]) Push(x any)         { *h = append(*h, x.(T)) }
func (h *overflowHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func heapPush[T Scheduleable](h *overflowHeap[T], item T) {
	heap.Push(h, item)
}

func heapPop[T Scheduleable](h *overflowHeap[T]) T {
	return heap.Pop(h).(T)
}

// heapRemoveMatching removes and returns the first item for which match
// returns true, re-heapifying afterward. It reports false if nothing
// matched.
func heapRemoveMatching[T Scheduleable](h *overflowHeap[T], match func(T) bool) (T, bool) {
	for i, item := range *h {
		if match(item) {
			removed := heap.Remove(h, i).(T)
			return removed, true
		}
	}
	var zero T
	return zero, false
}
