package history

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot // inputs are unit length
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder()

	first, err := e.EmbedQuery(context.Background(), "fixer reverted after delta check")
	require.NoError(t, err)
	second, err := e.EmbedQuery(context.Background(), "fixer reverted after delta check")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, EmbeddingDim)
}

func TestHashingEmbedder_UnitLength(t *testing.T) {
	e := NewHashingEmbedder()

	vec, err := e.EmbedQuery(context.Background(), "missing import fixer TS2304")
	require.NoError(t, err)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-3)
}

func TestHashingEmbedder_EmptyText(t *testing.T) {
	e := NewHashingEmbedder()

	vec, err := e.EmbedQuery(context.Background(), "   ")
	require.NoError(t, err)

	assert.Equal(t, float32(1), vec[0])
	for _, v := range vec[1:] {
		assert.Zero(t, v)
	}
}

func TestHashingEmbedder_LexicalOverlapRanksHigher(t *testing.T) {
	e := NewHashingEmbedder()

	base, err := e.EmbedQuery(context.Background(), "missing import fixer TS2304")
	require.NoError(t, err)
	near, err := e.EmbedQuery(context.Background(), "missing import fixer TS2307")
	require.NoError(t, err)
	far, err := e.EmbedQuery(context.Background(), "zebra quantum waffle")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, near), cosine(base, far))
}

func TestHashingEmbedder_EmbedDocuments(t *testing.T) {
	e := NewHashingEmbedder()

	vecs, err := e.EmbedDocuments(context.Background(), []string{"one", "two", "one"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Fixer import-fixer fixed TS2304 (30 -> 20)")
	assert.Equal(t, []string{"fixer", "import", "fixer", "fixed", "ts2304", "30", "20"}, tokens)
}

func TestCosineHelper(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0, cosine(a, b), 1e-9)
	assert.InDelta(t, 1, cosine(a, a), 1e-9)
	assert.False(t, math.IsNaN(cosine(a, b)))
}
