// Package ranker scores candidate vectors against a query by cosine
// similarity and returns a thresholded, deterministically ordered list.
// It knows nothing about item types; callers choose the candidate pool.
package ranker

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/tfidf"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
)

// DefaultThreshold is the minimum score returned when no threshold is
// configured.
const DefaultThreshold = 0.15

type ScoredItem struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// Options control filtering. Threshold is inclusive. A Limit of zero or less
// returns every candidate at or above the threshold.
type Options struct {
	Threshold float64
	Limit     int
}

// Validate rejects thresholds outside [0,1], NaN included.
func (o Options) Validate() error {
	if !(o.Threshold >= 0 && o.Threshold <= 1) {
		return apperrors.Invalid("threshold must be between 0 and 1, got %v", o.Threshold)
	}
	return nil
}

// Rank scores every candidate against query and returns those with a score
// >= opts.Threshold, sorted by score descending and item id ascending.
func Rank(query tfidf.Vector, candidates map[string]tfidf.Vector, opts Options) ([]ScoredItem, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	result := make([]ScoredItem, 0, len(candidates))
	for id, vec := range candidates {
		score, err := Cosine(query, vec)
		if err != nil {
			return nil, fmt.Errorf("scoring candidate %s: %w", id, err)
		}
		if score < opts.Threshold {
			continue
		}
		result = append(result, ScoredItem{ItemID: id, Score: score})
	}
	Sort(result)
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Sort orders items by score descending, breaking ties by ascending id.
func Sort(items []ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

// Cosine returns dot(a,b) / (|a||b|) clamped to [0,1]. It is 0 when either
// vector has zero magnitude.
func Cosine(a, b tfidf.Vector) (float64, error) {
	dot, err := a.Dot(b)
	if err != nil {
		return 0, err
	}
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0, nil
	}
	score := dot / (na * nb)
	switch {
	case score < 0:
		return 0, nil
	case score > 1:
		return 1, nil
	}
	return score, nil
}
