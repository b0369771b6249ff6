package webhook

import "container/heap"

// deliveryHeap is a min-heap of deliveries ordered by NextAttemptAt. The
// scheduler pops the earliest-due delivery instead of scanning a flat
// queue on every tick.
type deliveryHeap []*Delivery

var _ heap.Interface = (*deliveryHeap)(nil)

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	return h[i].NextAttemptAt.Before(h[j].NextAttemptAt)
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x any) {
	*h = append(*h, x.(*Delivery))
}

func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}

func (h deliveryHeap) peek() *Delivery {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
