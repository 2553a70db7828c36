package memory

import (
	"math"
	"strings"
	"unicode"
)

// TokenOverlap is the Jaccard ratio of the lowercase word sets of two texts
type TokenOverlap struct{}

// Similarity implements Similarity
func (TokenOverlap) Similarity(a, b string) float64 {
	return jaccard(tokenSet(a), tokenSet(b))
}

func tokenSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

// EmbeddingSimilarity compares texts by cosine similarity of hashed
// bag-of-words vectors. It tolerates reordering and partial overlap better
// than TokenOverlap but needs a lower threshold.
type EmbeddingSimilarity struct {
	dimensions int
}

// NewEmbeddingSimilarity creates a hashed embedding similarity with the given width
func NewEmbeddingSimilarity(dimensions int) *EmbeddingSimilarity {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &EmbeddingSimilarity{dimensions: dimensions}
}

// Similarity implements Similarity
func (e *EmbeddingSimilarity) Similarity(a, b string) float64 {
	va, vb := e.embed(a), e.embed(b)
	var dot float64
	for i := range va {
		dot += float64(va[i] * vb[i])
	}
	if dot < 0 {
		return 0
	}
	return math.Min(dot, 1)
}

// embed builds a unit vector where earlier words weigh slightly more
func (e *EmbeddingSimilarity) embed(text string) []float32 {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	vec := make([]float32, e.dimensions)

	for i, word := range words {
		word = strings.TrimFunc(word, unicode.IsPunct)
		if word == "" {
			continue
		}
		position := float32(i) / float32(len(words))
		idx := simpleHash(word) % uint32(e.dimensions)
		vec[idx] += 1.0 / (1.0 + position)
	}

	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v * v)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / magnitude)
		}
	}
	return vec
}

func simpleHash(s string) uint32 {
	hash := uint32(0)
	for _, c := range s {
		hash = hash*31 + uint32(c)
	}
	return hash
}
