// Package collection implements a single named space of fixed-dimensional
// embeddings: the invariants around dimension and id-uniqueness, cosine
// normalization at insert time, metadata filtering, and the parallel
// similarity scan feeding pkg/topk's bounded selector.
//
// A Collection owns its embeddings exclusively; nothing outside this
// package ever holds a pointer into its internal slice, so every read
// returns a copy the caller may keep past the lifetime of any lock held by
// pkg/vectordb.
package collection

import (
	"context"
	"errors"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/cianyyz/vectordb/pkg/distance"
	"github.com/cianyyz/vectordb/pkg/topk"
)

// ErrIDNotFound is returned by GetByID and DeleteByID when no embedding
// with the requested id exists in the collection.
var ErrIDNotFound = errors.New("collection: id not found")

// ErrDimensionMismatch is returned whenever a caller-supplied vector's
// length does not equal the collection's dimension.
var ErrDimensionMismatch = errors.New("collection: dimension mismatch")

// Equality is a comparison operator for numeric metadata filters.
type Equality string

// The equality operators accepted by GetMetadataNumber, matching the HTTP
// surface's `equality` field one-for-one (case-insensitively, see
// ParseEquality).
const (
	GreaterThan      Equality = "greater_than"
	GreaterEqualThan Equality = "greater_equal_than"
	LesserThan       Equality = "lesser_than"
	LesserEqualThan  Equality = "lesser_equal_than"
	Equal            Equality = "equal"
)

// ErrInvalidEquality is returned by ParseEquality for any string that
// isn't one of the five known operators.
var ErrInvalidEquality = errors.New("collection: invalid equality operator")

// ParseEquality parses s (case-insensitive) into an Equality operator.
func ParseEquality(s string) (Equality, error) {
	switch Equality(lower(s)) {
	case GreaterThan, GreaterEqualThan, LesserThan, LesserEqualThan, Equal:
		return Equality(lower(s)), nil
	default:
		return "", ErrInvalidEquality
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Embedding is an identified point in the collection's vector space, with
// optional string metadata. Embedding values returned from a Collection are
// always independent copies.
type Embedding struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

func (e Embedding) clone() Embedding {
	out := Embedding{ID: e.ID, Vector: append([]float32(nil), e.Vector...)}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Scored pairs an Embedding with its similarity score from Similarity.
// Smaller Score means more similar, per pkg/distance's convention.
type Scored struct {
	Score     float32
	Embedding Embedding
}

// Collection holds embeddings sharing a dimension and distance metric.
// The zero value is not usable; construct with New.
type Collection struct {
	Dimension int
	Distance  distance.Metric

	// embeddings preserves insertion order: it has no semantic meaning to
	// queries, but persistence (pkg/snapshot) and the metadata filters'
	// "first k in insertion order" contract both depend on it.
	embeddings []Embedding
	byID       map[string]int
}

// New creates an empty collection for the given dimension and metric.
func New(dimension int, metric distance.Metric) *Collection {
	return &Collection{
		Dimension: dimension,
		Distance:  metric,
		byID:      make(map[string]int),
	}
}

// Restore rebuilds a collection from already-decoded embeddings (e.g. from
// pkg/snapshot) without re-running Insert's normalization step - the
// embeddings were normalized once already at the original insert time, and
// a snapshot round-trip must not perturb them a second time beyond the
// float rounding inherent to persisting float32s.
func Restore(dimension int, metric distance.Metric, embeddings []Embedding) *Collection {
	c := &Collection{
		Dimension:  dimension,
		Distance:   metric,
		embeddings: embeddings,
		byID:       make(map[string]int, len(embeddings)),
	}
	for i, e := range embeddings {
		c.byID[e.ID] = i
	}
	return c
}

// Len returns the number of embeddings currently stored.
func (c *Collection) Len() int { return len(c.embeddings) }

// Insert upserts e: if an embedding with the same id already exists it is
// replaced atomically (no stale duplicate remains), otherwise e is
// appended. Cosine collections normalize e.Vector before storing it so that
// later similarity scans can score with a plain dot product.
//
// Insert does not copy e.Vector/e.Metadata defensively on the way in - the
// caller (pkg/vectordb.Database.Insert) is expected to hand over ownership
// of a freshly decoded embedding it will not touch again.
func (c *Collection) Insert(e Embedding) error {
	if len(e.Vector) != c.Dimension {
		return ErrDimensionMismatch
	}
	if c.Distance == distance.Cosine {
		distance.NormalizeInPlace(e.Vector)
	}
	if idx, ok := c.byID[e.ID]; ok {
		c.embeddings[idx] = e
		return nil
	}
	c.byID[e.ID] = len(c.embeddings)
	c.embeddings = append(c.embeddings, e)
	return nil
}

// GetByID returns a copy of the embedding with the given id.
func (c *Collection) GetByID(id string) (Embedding, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Embedding{}, ErrIDNotFound
	}
	return c.embeddings[idx].clone(), nil
}

// DeleteByID removes and returns the embedding with the given id. The
// remaining embeddings keep their relative insertion order - persistence
// and the metadata filters' "first k in insertion order" contract both
// depend on it, so this is a shift, not a swap-with-last.
func (c *Collection) DeleteByID(id string) (Embedding, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Embedding{}, ErrIDNotFound
	}
	removed := c.embeddings[idx]
	c.embeddings = append(c.embeddings[:idx], c.embeddings[idx+1:]...)
	delete(c.byID, id)
	for i := idx; i < len(c.embeddings); i++ {
		c.byID[c.embeddings[i].ID] = i
	}
	return removed, nil
}

// All returns a copy of every embedding, in insertion order. Used by
// pkg/snapshot to persist the collection.
func (c *Collection) All() []Embedding {
	out := make([]Embedding, len(c.embeddings))
	for i, e := range c.embeddings {
		out[i] = e.clone()
	}
	return out
}

// GetMetadataString returns up to k embeddings (in insertion order) whose
// metadata has an entry `key` equal to `value` (exact byte-for-byte
// comparison).
func (c *Collection) GetMetadataString(key, value string, k int) []Embedding {
	var out []Embedding
	for _, e := range c.embeddings {
		if len(out) >= k {
			break
		}
		if e.Metadata == nil {
			continue
		}
		if v, ok := e.Metadata[key]; ok && v == value {
			out = append(out, e.clone())
		}
	}
	return out
}

// GetMetadataNumber returns up to k embeddings (in insertion order) whose
// metadata has an entry `key` that parses as a 32-bit float and satisfies
// `op` against threshold. Embeddings missing the key, with a non-numeric
// value, or with no metadata at all are excluded - never treated as a
// match for any operator.
func (c *Collection) GetMetadataNumber(key string, threshold float32, op Equality, k int) []Embedding {
	var out []Embedding
	for _, e := range c.embeddings {
		if len(out) >= k {
			break
		}
		if e.Metadata == nil {
			continue
		}
		raw, ok := e.Metadata[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			continue
		}
		if matches(float32(v), threshold, op) {
			out = append(out, e.clone())
		}
	}
	return out
}

func matches(v, threshold float32, op Equality) bool {
	switch op {
	case GreaterThan:
		return v > threshold
	case GreaterEqualThan:
		return v >= threshold
	case LesserThan:
		return v < threshold
	case LesserEqualThan:
		return v <= threshold
	case Equal:
		return v == threshold
	default:
		return false
	}
}

// similarityParallelThreshold is the smallest population size for which the
// scan is worth splitting across goroutines; below it the per-goroutine
// setup overhead would dwarf the scoring work.
const similarityParallelThreshold = 2048

// Similarity scores query against every stored embedding and returns the k
// most similar, ascending by score. The scan is data-parallel: embeddings
// are partitioned into contiguous chunks scored independently across
// GOMAXPROCS goroutines, each feeding its own pkg/topk.Selector, which are
// then merged into one final top-k - this produces results identical to a
// single sequential heap over the full score array, including tie-break
// order, since pkg/topk.Selector.Merge re-applies the same less() ordering.
func (c *Collection) Similarity(ctx context.Context, query []float32, k int) ([]Scored, error) {
	if len(query) != c.Dimension {
		return nil, ErrDimensionMismatch
	}
	if k < 1 {
		k = 1
	}
	if k > len(c.embeddings) {
		k = len(c.embeddings)
	}
	if k == 0 {
		return nil, nil
	}

	prepared := c.Distance.Prepare(query)

	workers := runtime.GOMAXPROCS(0)
	n := len(c.embeddings)
	if n < similarityParallelThreshold || workers < 2 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	selectors := make([]*topk.Selector, workers)
	chunk := (n + workers - 1) / workers

	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			selectors[w] = topk.New(k)
			continue
		}
		g.Go(func() error {
			sel := topk.New(k)
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				score := c.Distance.Score(c.embeddings[i].Vector, query, prepared)
				sel.Add(topk.Result{Score: score, Index: i})
			}
			selectors[w] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := topk.New(k)
	for _, sel := range selectors {
		merged.Merge(sel)
	}

	results := merged.Results()
	out := make([]Scored, len(results))
	for i, r := range results {
		out[i] = Scored{Score: r.Score, Embedding: c.embeddings[r.Index].clone()}
	}
	return out, nil
}
