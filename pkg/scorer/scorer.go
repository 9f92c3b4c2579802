// Package scorer ranks shelters for a placement request.
//
// A shelter first has to pass the hard filters (headroom, required features,
// search radius, a valid location). Survivors get a combined score:
//
//	(capacity*Wc + distance*Wd + feature*Wf + similarity*Ws) * urgency
//
// where capacity is relative headroom, distance falls linearly to zero at the
// search radius and feature is the fraction of required tags present. The
// weights are normalized to sum to 1.
//
// One weighting applies to a whole ranking. If the similarity provider has a
// signal for at least one candidate, every candidate is scored with all four
// weights and those without a signal get similarity.NeutralScore. Otherwise
// Ws is dropped and the remaining three weights are rescaled to sum to 1.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/arnavshah/shelter-api-go/pkg/geo"
	"github.com/arnavshah/shelter-api-go/pkg/models"
	"github.com/arnavshah/shelter-api-go/pkg/similarity"
)

// Epsilon is the score difference below which two candidates tie
const Epsilon = 1e-9

// DefaultMaxDistanceMeters is the default search radius
const DefaultMaxDistanceMeters = 20000.0

// Weights of the four sub-scores
type Weights struct {
	Capacity   float64 `json:"capacity"`
	Distance   float64 `json:"distance"`
	Feature    float64 `json:"feature"`
	Similarity float64 `json:"similarity"`
}

// DefaultWeights apply when the similarity signal is available
var DefaultWeights = Weights{Capacity: 0.2, Distance: 0.3, Feature: 0.1, Similarity: 0.4}

// WithoutSimilarity drops the similarity weight and rescales the rest to
// sum to 1
func (w Weights) WithoutSimilarity() Weights {
	sum := w.Capacity + w.Distance + w.Feature
	if sum <= 0 {
		return Weights{Capacity: 1.0 / 3, Distance: 1.0 / 3, Feature: 1.0 / 3}
	}
	return Weights{Capacity: w.Capacity / sum, Distance: w.Distance / sum, Feature: w.Feature / sum}
}

// normalized rescales the four weights to sum to 1. Zero weights mean
// DefaultWeights.
func (w Weights) normalized() Weights {
	sum := w.Capacity + w.Distance + w.Feature + w.Similarity
	if sum <= 0 {
		return DefaultWeights
	}
	return Weights{
		Capacity:   w.Capacity / sum,
		Distance:   w.Distance / sum,
		Feature:    w.Feature / sum,
		Similarity: w.Similarity / sum,
	}
}

// Config tunes the scorer
type Config struct {
	MaxDistanceMeters float64
	Weights           Weights
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{MaxDistanceMeters: DefaultMaxDistanceMeters, Weights: DefaultWeights}
}

// Scorer evaluates request/shelter pairs. It has no state beyond its
// configuration, so equal inputs always give equal scores.
type Scorer struct {
	cfg        Config
	similarity similarity.Provider
}

// New creates a Scorer. A nil provider means similarity.Neutral.
func New(cfg Config, provider similarity.Provider) *Scorer {
	if cfg.MaxDistanceMeters <= 0 {
		cfg.MaxDistanceMeters = DefaultMaxDistanceMeters
	}
	cfg.Weights = cfg.Weights.normalized()
	if provider == nil {
		provider = similarity.Neutral{}
	}
	return &Scorer{cfg: cfg, similarity: provider}
}

// Config returns the effective configuration
func (s *Scorer) Config() Config { return s.cfg }

// Evaluate scores shelter for req on its own. A shelter failing a hard
// filter returns a nil candidate and the filter's reason
// (models.FilterCapacity etc).
func (s *Scorer) Evaluate(ctx context.Context, req *models.Request, shelter *models.Shelter) (*models.MatchCandidate, string) {
	e, rejected := s.evaluate(ctx, req, shelter)
	if e == nil {
		return nil, rejected
	}
	s.combine(e, req, e.signal)
	return e.candidate, ""
}

// Candidates evaluates every shelter and returns the eligible ones ranked
// best first, plus a count of why the others were filtered out. All
// candidates share one weighting.
func (s *Scorer) Candidates(ctx context.Context, req *models.Request, shelters []models.Shelter) ([]models.MatchCandidate, models.FilterSummary) {
	summary := models.FilterSummary{Considered: len(shelters)}
	evals := make([]*evaluation, 0, len(shelters))
	signal := false
	for i := range shelters {
		e, rejected := s.evaluate(ctx, req, &shelters[i])
		if e == nil {
			summary.Add(rejected)
			continue
		}
		signal = signal || e.signal
		evals = append(evals, e)
	}

	out := make([]models.MatchCandidate, 0, len(evals))
	for _, e := range evals {
		s.combine(e, req, signal)
		out = append(out, *e.candidate)
	}
	Rank(out)
	return out, summary
}

// evaluation is a candidate whose combined score is not computed yet
type evaluation struct {
	candidate  *models.MatchCandidate
	required   int
	similarity float64
	signal     bool
}

func (s *Scorer) evaluate(ctx context.Context, req *models.Request, shelter *models.Shelter) (*evaluation, string) {
	if shelter.AvailableCapacity() < req.PeopleCount {
		return nil, models.FilterCapacity
	}
	matched, required := featureMatch(req.RequiredFeatures, shelter)
	if matched < required {
		return nil, models.FilterFeature
	}

	dist, err := geo.Distance(req.Coordinate(), shelter.Coordinate())
	if err != nil {
		return nil, models.FilterLocation
	}
	if dist > s.cfg.MaxDistanceMeters {
		return nil, models.FilterDistance
	}

	c := &models.MatchCandidate{
		Shelter:        shelter,
		DistanceMeters: dist,
		ETAMinutes:     geo.ETA(dist, req.Urgency.TravelSpeed()),
		CapacityScore:  float64(shelter.AvailableCapacity()) / float64(shelter.Capacity),
		DistanceScore:  math.Max(0, 1-dist/s.cfg.MaxDistanceMeters),
		FeatureScore:   1.0,
	}
	if required > 0 {
		c.FeatureScore = float64(matched) / float64(required)
	}

	e := &evaluation{candidate: c, required: required}
	sim, ok := s.similarity.Similarity(ctx, req, shelter)
	if ok && !math.IsNaN(sim) {
		e.similarity = math.Max(0, math.Min(1, sim))
		e.signal = true
	}
	return e, ""
}

// combine fills in the combined score. With signal set all four weights
// apply and a candidate lacking its own signal scores NeutralScore.
func (s *Scorer) combine(e *evaluation, req *models.Request, signal bool) {
	c := e.candidate
	w := s.cfg.Weights
	sim := 0.0
	if signal {
		sim = similarity.NeutralScore
		if e.signal {
			sim = e.similarity
		}
		c.SimilarityScore = &sim
	} else {
		w = w.WithoutSimilarity()
		c.SimilarityScore = nil
	}

	base := c.CapacityScore*w.Capacity + c.DistanceScore*w.Distance + c.FeatureScore*w.Feature + sim*w.Similarity
	c.CombinedScore = base * req.Urgency.Multiplier()
	c.MatchReason = reason(c, e.required)
}

// Rank sorts candidates best first: higher combined score, then more
// available capacity, then lower shelter id
func Rank(candidates []models.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return Better(&candidates[i], &candidates[j])
	})
}

// Better reports whether a ranks strictly ahead of b
func Better(a, b *models.MatchCandidate) bool {
	if d := a.CombinedScore - b.CombinedScore; math.Abs(d) > Epsilon {
		return d > 0
	}
	if aa, ba := a.Shelter.AvailableCapacity(), b.Shelter.AvailableCapacity(); aa != ba {
		return aa > ba
	}
	return a.Shelter.ID < b.Shelter.ID
}

func featureMatch(required []string, shelter *models.Shelter) (matched, total int) {
	seen := make(map[string]struct{}, len(required))
	for _, tag := range required {
		tag = models.NormalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		total++
		if shelter.HasFeature(tag) {
			matched++
		}
	}
	return matched, total
}

func reason(c *models.MatchCandidate, required int) string {
	parts := []string{
		fmt.Sprintf("%.1f km away", c.DistanceMeters/1000),
		fmt.Sprintf("%d of %d places free", c.Shelter.AvailableCapacity(), c.Shelter.Capacity),
	}
	if required > 0 {
		parts = append(parts, "has all required features")
	}
	if c.SimilarityScore != nil {
		parts = append(parts, fmt.Sprintf("needs similarity %.2f", *c.SimilarityScore))
	}
	return strings.Join(parts, ", ")
}
