package match

import "container/heap"

// Compile time check to ensure resultQueue satisfies the heap interface.
var _ heap.Interface = (*resultQueue)(nil)

// resultQueue is a min-heap in ranking order. The root is the worst result
// kept so far.
type resultQueue []Result

// worse reports whether a ranks after b: a lower score, or an equal score
// and a later database position.
func worse(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Ordinal > b.Ordinal
}

func (q resultQueue) Len() int           { return len(q) }
func (q resultQueue) Less(i, j int) bool { return worse(q[i], q[j]) }
func (q resultQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *resultQueue) Push(x any) {
	*q = append(*q, x.(Result))
}

func (q *resultQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// topK returns the k best results, best first. Equal scores keep database
// order, the same ranking a stable sort would produce.
func topK(results []Result, k int) []Result {
	q := make(resultQueue, 0, k)
	for _, r := range results {
		if q.Len() < k {
			heap.Push(&q, r)
			continue
		}
		if worse(q[0], r) {
			q[0] = r
			heap.Fix(&q, 0)
		}
	}

	out := make([]Result, q.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&q).(Result)
	}
	return out
}
