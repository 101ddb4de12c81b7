// Package topk implements the bounded top-k selector used to turn a stream
// of (score, index) pairs into the k most similar results without sorting
// the full population.
//
// The selector is a max-heap of size <= k: once the heap is full, a new
// candidate is only admitted if it beats the current worst (root) entry,
// which is then evicted. Draining the heap and reversing yields the k
// smallest scores in ascending order. This is O(n log k) time and O(k)
// space.
package topk

import (
	"container/heap"
	"math"
)

// Result pairs a score with the index of the embedding it was computed
// for. Index is the embedding's position in its collection's insertion
// order and is what breaks ties between equal scores.
type Result struct {
	Score float32
	Index int
}

// less reports whether r sorts strictly before other in the final, ascending
// output order: smaller score first, and for equal scores the earlier
// index first. NaN scores are treated as larger than any finite score so
// they are evicted from the heap first and never preferred.
func less(r, other Result) bool {
	if math.IsNaN(float64(r.Score)) {
		return false
	}
	if math.IsNaN(float64(other.Score)) {
		return true
	}
	if r.Score != other.Score {
		return r.Score < other.Score
	}
	return r.Index < other.Index
}

// maxHeap is a container/heap.Interface over Result that keeps the worst
// (by the ascending order defined by less) candidate at the root, so it is
// the one evicted when a better candidate arrives.
type maxHeap []Result

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	// Inverted: this is a max-heap over the ascending `less` order, so the
	// worst element (by less) must compare as "greater" here to float to
	// the root.
	return less(h[j], h[i])
}
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Selector accumulates (score, index) pairs and retains only the k best.
// A Selector is not safe for concurrent use; callers parallelizing the
// scoring fan-out (see pkg/collection) give each goroutine its own Selector
// and merge the results afterward.
type Selector struct {
	k int
	h maxHeap
}

// New creates a Selector that retains at most k results. k is clamped to
// >= 1 by the caller (see pkg/collection's k-policy); New itself treats any
// k < 1 as 1 so a misused Selector never silently discards everything.
func New(k int) *Selector {
	if k < 1 {
		k = 1
	}
	return &Selector{k: k, h: make(maxHeap, 0, k)}
}

// Add offers a candidate to the selector. If the heap has fewer than k
// entries, the candidate is always kept. Otherwise it is kept only if it
// beats (per less) the current worst entry, which is evicted.
func (s *Selector) Add(r Result) {
	if s.h.Len() < s.k {
		heap.Push(&s.h, r)
		return
	}
	if less(r, s.h[0]) {
		heap.Push(&s.h, r)
		heap.Pop(&s.h)
	}
}

// Results drains the selector and returns its contents in ascending score
// order (ties broken by ascending index). The Selector must not be reused
// after calling Results.
func (s *Selector) Results() []Result {
	n := s.h.Len()
	out := make([]Result, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&s.h).(Result)
	}
	return out
}

// Merge folds the contents of other into s, keeping only the k best
// overall. Used to combine per-goroutine selectors from a parallel scoring
// fan-out into one final top-k (see pkg/collection.Collection.Similarity).
func (s *Selector) Merge(other *Selector) {
	for _, r := range other.h {
		s.Add(r)
	}
}
