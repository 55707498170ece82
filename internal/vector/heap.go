package vector

import "container/heap"

// candMinHeap pops the closest candidate first (search frontier).
type candMinHeap []cand

func (h candMinHeap) Len() int            { return len(h) }
func (h candMinHeap) Less(i, j int) bool  { return h[i].d < h[j].d }
func (h candMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candMinHeap) Push(x interface{}) { *h = append(*h, x.(cand)) }
func (h *candMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// candMaxHeap pops the farthest candidate first (bounded result set).
type candMaxHeap []cand

func (h candMaxHeap) Len() int            { return len(h) }
func (h candMaxHeap) Less(i, j int) bool  { return h[i].d > h[j].d }
func (h candMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candMaxHeap) Push(x interface{}) { *h = append(*h, x.(cand)) }
func (h *candMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

func pushMin(h *candMinHeap, c cand) { heap.Push(h, c) }
func popMin(h *candMinHeap) cand     { return heap.Pop(h).(cand) }
func pushMax(h *candMaxHeap, c cand) { heap.Push(h, c) }
func popMax(h *candMaxHeap) cand     { return heap.Pop(h).(cand) }
