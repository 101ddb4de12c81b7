package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cianyyz/vectordb/pkg/distance"
)

func TestInsertEnforcesDimension(t *testing.T) {
	c := New(3, distance.Euclidean)
	err := c.Insert(Embedding{ID: "a", Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInsertUpsertReplacesExisting(t *testing.T) {
	c := New(2, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "u", Vector: []float32{1, 0}}))
	require.NoError(t, c.Insert(Embedding{ID: "u", Vector: []float32{0, 1}}))

	assert.Equal(t, 1, c.Len())
	got, err := c.GetByID("u")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got.Vector)
}

func TestInsertNormalizesCosineVectors(t *testing.T) {
	c := New(2, distance.Cosine)
	require.NoError(t, c.Insert(Embedding{ID: "a", Vector: []float32{3, 4}}))

	got, err := c.GetByID("a")
	require.NoError(t, err)
	norm := distance.DotProduct(got.Vector, got.Vector)
	assert.InDelta(t, 1, norm, 1e-6)
}

func TestGetByIDReturnsCopy(t *testing.T) {
	c := New(2, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "a", Vector: []float32{1, 2}}))

	got, err := c.GetByID("a")
	require.NoError(t, err)
	got.Vector[0] = 999

	again, _ := c.GetByID("a")
	assert.Equal(t, float32(1), again.Vector[0])
}

func TestGetByIDNotFound(t *testing.T) {
	c := New(2, distance.Euclidean)
	_, err := c.GetByID("missing")
	assert.ErrorIs(t, err, ErrIDNotFound)
}

func TestDeleteByIDPreservesOrderOfRemaining(t *testing.T) {
	c := New(1, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "x", Vector: []float32{1}}))
	require.NoError(t, c.Insert(Embedding{ID: "y", Vector: []float32{2}}))
	require.NoError(t, c.Insert(Embedding{ID: "z", Vector: []float32{3}}))

	_, err := c.DeleteByID("x")
	require.NoError(t, err)

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "y", all[0].ID)
	assert.Equal(t, "z", all[1].ID)

	// lookup by id must still resolve correctly after a shift
	got, err := c.GetByID("z")
	require.NoError(t, err)
	assert.Equal(t, float32(3), got.Vector[0])
}

func TestDeleteByIDNotFound(t *testing.T) {
	c := New(1, distance.Euclidean)
	_, err := c.DeleteByID("missing")
	assert.ErrorIs(t, err, ErrIDNotFound)
}

func TestGetMetadataStringInsertionOrderAndLimit(t *testing.T) {
	c := New(1, distance.Euclidean)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Insert(Embedding{
			ID:       id,
			Vector:   []float32{float32(i)},
			Metadata: map[string]string{"color": "red"},
		}))
	}
	got := c.GetMetadataString("color", "red", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestGetMetadataNumberExcludesNonNumericAndMissing(t *testing.T) {
	c := New(1, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "a", Vector: []float32{0}, Metadata: map[string]string{"price": "10"}}))
	require.NoError(t, c.Insert(Embedding{ID: "b", Vector: []float32{0}, Metadata: map[string]string{"price": "not-a-number"}}))
	require.NoError(t, c.Insert(Embedding{ID: "c", Vector: []float32{0}}))
	require.NoError(t, c.Insert(Embedding{ID: "d", Vector: []float32{0}, Metadata: map[string]string{"price": "30"}}))

	got := c.GetMetadataNumber("price", 5, GreaterThan, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestGetMetadataNumberGreaterThanFirstKInOrder(t *testing.T) {
	c := New(1, distance.Euclidean)
	for i, p := range []string{"10", "20", "30", "40", "50"} {
		require.NoError(t, c.Insert(Embedding{
			ID:       string(rune('a' + i)),
			Vector:   []float32{float32(i)},
			Metadata: map[string]string{"price": p},
		}))
	}
	got := c.GetMetadataNumber("price", 25, GreaterThan, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID) // price 30
	assert.Equal(t, "d", got[1].ID) // price 40
}

func TestParseEquality(t *testing.T) {
	eq, err := ParseEquality("Greater_Than")
	require.NoError(t, err)
	assert.Equal(t, GreaterThan, eq)

	_, err = ParseEquality("nope")
	assert.ErrorIs(t, err, ErrInvalidEquality)
}

func TestSimilarityDimensionMismatch(t *testing.T) {
	c := New(3, distance.Euclidean)
	_, err := c.Similarity(context.Background(), []float32{1, 2}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSimilarityOrdersAscendingAndBreaksTiesByIndex(t *testing.T) {
	c := New(3, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "x", Vector: []float32{1, 0, 0}}))
	require.NoError(t, c.Insert(Embedding{ID: "y", Vector: []float32{0, 1, 0}}))
	require.NoError(t, c.Insert(Embedding{ID: "z", Vector: []float32{0, 0, 1}}))

	results, err := c.Similarity(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].Embedding.ID)
	assert.InDelta(t, 0, results[0].Score, 1e-6)
	assert.Equal(t, "y", results[1].Embedding.ID) // tie with z, lower insertion index wins
	assert.InDelta(t, 2, results[1].Score, 1e-6)
}

func TestSimilarityKLargerThanCollectionReturnsAll(t *testing.T) {
	c := New(1, distance.Euclidean)
	require.NoError(t, c.Insert(Embedding{ID: "a", Vector: []float32{1}}))
	require.NoError(t, c.Insert(Embedding{ID: "b", Vector: []float32{2}}))

	results, err := c.Similarity(context.Background(), []float32{0}, 100)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSimilarityCosineExample(t *testing.T) {
	c := New(2, distance.Cosine)
	require.NoError(t, c.Insert(Embedding{ID: "a", Vector: []float32{3, 4}}))

	results, err := c.Similarity(context.Background(), []float32{10, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.4, results[0].Score, 1e-4)
}

func TestSimilarityOnLargePopulationMatchesSequential(t *testing.T) {
	c := New(4, distance.Dot)
	const n = 5000
	for i := 0; i < n; i++ {
		v := float32(i % 97)
		require.NoError(t, c.Insert(Embedding{
			ID:     string(rune(i)) + "-id",
			Vector: []float32{v, v, v, v},
		}))
	}

	results, err := c.Similarity(context.Background(), []float32{1, 1, 1, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// A sequential scan ties every i with i%97 == 96 at score -384 and keeps
	// the five lowest such indices.
	for j, idx := range []int{96, 193, 290, 387, 484} {
		assert.Equal(t, string(rune(idx))+"-id", results[j].Embedding.ID)
		assert.Equal(t, float32(-384), results[j].Score)
	}
}
