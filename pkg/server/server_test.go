package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cianyyz/vectordb/pkg/vectordb"
)

func newTestServer(t *testing.T) (*Server, *vectordb.Database) {
	t.Helper()
	db, err := vectordb.Open(filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, DefaultConfig(), nil)
	require.NoError(t, err)
	return s, db
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestCreateCollectionThenInfo(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPut, "/collections/A", map[string]any{
		"dimension": 3, "distance": "euclidean",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodGet, "/collections/A", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "A", info["name"])
	assert.Equal(t, float64(3), info["dimension"])
	assert.Equal(t, "euclidean", info["distance"])
}

func TestCreateCollectionConflict(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})

	rec := doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateCollectionInvalidDistance(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "manhattan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionInfoNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/collections/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsertThenGetByID(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})

	rec := doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{
		"id": "x", "vector": []float32{1, 2},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodGet, "/collections/A/x", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got embeddingPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "x", got.ID)
	assert.Equal(t, []float32{1, 2}, got.Vector)
}

func TestInsertDimensionMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 3, "distance": "euclidean"})

	rec := doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{
		"id": "x", "vector": []float32{1, 2},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetByIDMissingID(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})

	rec := doRequest(s, http.MethodGet, "/collections/A/missing", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEmbeddingAndCollection(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})
	doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{"id": "x", "vector": []float32{1, 2}})

	rec := doRequest(s, http.MethodDelete, "/collections/A/x", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodDelete, "/collections/A", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodDelete, "/collections/A", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEmbeddingMissingIDIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})

	rec := doRequest(s, http.MethodDelete, "/collections/A/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimilarityDefaultK(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 2, "distance": "euclidean"})
	doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{"id": "x", "vector": []float32{1, 0}})
	doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{"id": "y", "vector": []float32{0, 1}})

	rec := doRequest(s, http.MethodPost, "/collections/A", map[string]any{"query": []float32{1, 0}})
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []scoredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1) // default k=1
	assert.Equal(t, "x", got[0].Embedding.ID)
}

func TestSimilarityDimensionMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 3, "distance": "euclidean"})

	rec := doRequest(s, http.MethodPost, "/collections/A", map[string]any{"query": []float32{1, 0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataStringQueryDefaultK(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 1, "distance": "euclidean"})
	for i := 0; i < 7; i++ {
		doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{
			"id": string(rune('a' + i)), "vector": []float32{float32(i)},
			"metadata": map[string]string{"color": "red"},
		})
	}

	rec := doRequest(s, http.MethodPost, "/collections/A/query", map[string]any{"key": "color", "value": "red"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []embeddingPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 5) // default k=5
}

func TestMetadataNumberQueryInvalidEquality(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 1, "distance": "euclidean"})

	rec := doRequest(s, http.MethodPost, "/collections/A/querynum", map[string]any{
		"key": "price", "value": 10, "equality": "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataNumberQuery(t *testing.T) {
	s, _ := newTestServer(t)
	doRequest(s, http.MethodPut, "/collections/A", map[string]any{"dimension": 1, "distance": "euclidean"})
	doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{
		"id": "a", "vector": []float32{1}, "metadata": map[string]string{"price": "10"},
	})
	doRequest(s, http.MethodPost, "/collections/A/insert", map[string]any{
		"id": "b", "vector": []float32{2}, "metadata": map[string]string{"price": "30"},
	})

	rec := doRequest(s, http.MethodPost, "/collections/A/querynum", map[string]any{
		"key": "price", "value": 20, "equality": "greater_than",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var got []embeddingPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnsupportedMethodOnEmbeddingRoute(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/collections/A/bogus", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownNestedRouteNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/collections/A/x/y", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
