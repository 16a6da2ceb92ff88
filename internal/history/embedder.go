package history

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// EmbeddingDim is the dimensionality of locally computed embeddings.
const EmbeddingDim = 256

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HashingEmbedder embeds text by feature-hashing token unigrams and
// bigrams into a fixed-size vector. It is deterministic, needs no model
// files or network access, and produces unit-length vectors as chromem
// requires. Shared tokens between two texts land in shared buckets, so
// cosine similarity tracks lexical overlap.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns an embedder producing EmbeddingDim-sized vectors.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{dim: EmbeddingDim}
}

// Dimensions returns the embedding vector size.
func (e *HashingEmbedder) Dimensions() int {
	return e.dim
}

// EmbedDocuments embeds a batch of texts.
func (e *HashingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *HashingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.dim)
	tokens := tokenize(text)

	for i, token := range tokens {
		e.bump(vector, token)
		if i+1 < len(tokens) {
			e.bump(vector, token+" "+tokens[i+1])
		}
	}

	// L2 normalize; a degenerate all-zero vector gets a fixed unit
	// direction so cosine similarity stays defined.
	var sumSq float64
	for _, v := range vector {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		vector[0] = 1
		return vector
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}

// bump hashes a feature into a bucket, with the high hash bit choosing
// the sign so collisions cancel rather than pile up.
func (e *HashingEmbedder) bump(vector []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		vector[bucket]--
	} else {
		vector[bucket]++
	}
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
