// Package similarity scores how well a shelter's description fits a
// request's free-text needs.
package similarity

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/zeebo/xxh3"
)

// NeutralScore is reported when no real signal is available
const NeutralScore = 0.5

// Provider scores request/shelter fit in [0, 1]. ok is false when the
// provider has no real signal for the pair; callers then drop the signal and
// reweight the others.
type Provider interface {
	Similarity(ctx context.Context, req *models.Request, shelter *models.Shelter) (score float64, ok bool)
}

// Neutral never has a signal
type Neutral struct{}

func (Neutral) Similarity(context.Context, *models.Request, *models.Shelter) (float64, bool) {
	return NeutralScore, false
}

// HashedEmbedding compares feature-hashed bag-of-words vectors.
//
// Tokens are hashed into a fixed number of buckets with xxh3, so the vectors
// are deterministic and need no vocabulary. This is a lexical overlap signal,
// not a semantic one; a real embedding model can replace it behind Provider.
type HashedEmbedding struct {
	Dimensions int
	Seed       uint64
}

// DefaultDimensions is the bucket count used when Dimensions is zero
const DefaultDimensions = 256

// NewHashedEmbedding returns a provider with the default size and seed
func NewHashedEmbedding() *HashedEmbedding {
	return &HashedEmbedding{Dimensions: DefaultDimensions, Seed: 0x5e17e5}
}

func (h *HashedEmbedding) Similarity(_ context.Context, req *models.Request, shelter *models.Shelter) (float64, bool) {
	reqTokens := Tokenize(req.Needs)
	for _, f := range req.RequiredFeatures {
		reqTokens = append(reqTokens, Tokenize(f)...)
	}
	shelterTokens := Tokenize(shelter.Name + " " + shelter.Description)
	for _, f := range shelter.Features {
		shelterTokens = append(shelterTokens, Tokenize(f)...)
	}
	if len(reqTokens) == 0 || len(shelterTokens) == 0 {
		return NeutralScore, false
	}

	return Cosine(h.Embed(reqTokens), h.Embed(shelterTokens)), true
}

// Embed hashes tokens into a term-count vector
func (h *HashedEmbedding) Embed(tokens []string) []float64 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float64, dims)
	for _, tok := range tokens {
		vec[xxh3.HashStringSeed(tok, h.Seed)%uint64(dims)]++
	}
	return vec
}

// Cosine returns the cosine of two non-negative vectors, 0 if either is empty
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += a[i] * b[i]
	}
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, c))
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "for": {}, "with": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "we": {}, "our": {}, "is": {}, "are": {},
	"need": {}, "needs": {}, "shelter": {},
}

// Tokenize lowercases text, splits on anything that is not a letter or digit
// and drops stop words and single characters
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
