// Package search orchestrates hybrid retrieval: query embedding, SQL
// candidate selection, cross-encoder reranking, score normalization,
// confidence classification and hierarchical enrichment.
package search

import (
	"math"
	"sort"

	"github.com/WillIsback/clea-api/pkg/models"
)

// Relevance thresholds of the confidence decision.
const (
	MinRelevance   = 0.3
	HighConfidence = 0.7
)

// Confidence levels and their fixed user-facing messages. The wording is
// part of the API contract.
const (
	LevelOffDomain = 0.1
	LevelMedium    = 0.4
	LevelGood      = 0.7
	LevelHigh      = 0.9

	MessageOffDomain = "Requête probablement hors du domaine de connaissances"
	MessageMedium    = "Pertinence moyenne: résultats disponibles mais peu spécifiques"
	MessageGood      = "Bonne pertinence: résultats généralement pertinents"
	MessageHigh      = "Haute pertinence: résultats fiables trouvés"
)

// NormalizeScores maps raw scores onto [0, 1] with min-max scaling. When all
// scores are equal the scale collapses and every score becomes 0.5. The
// transformation is idempotent on already-normalized inputs up to that
// fallback.
func NormalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}

	span := max - min
	for i, s := range scores {
		out[i] = (s - min) / span
	}
	return out
}

// Classify derives the confidence level from the top scores. The decision is
// a pure function of its input, evaluated strictly in order: a weak maximum
// means the query is off domain, then the average decides between medium,
// good and high.
func Classify(scores []float64) models.Confidence {
	if len(scores) == 0 {
		return models.Confidence{Level: LevelOffDomain, Message: MessageOffDomain}
	}

	stats := computeStats(scores)

	var level float64
	var message string
	switch {
	case stats.Max < MinRelevance:
		level, message = LevelOffDomain, MessageOffDomain
	case stats.Avg < MinRelevance:
		level, message = LevelMedium, MessageMedium
	case stats.Avg < HighConfidence:
		level, message = LevelGood, MessageGood
	default:
		level, message = LevelHigh, MessageHigh
	}

	return models.Confidence{
		Level:   level,
		Message: message,
		Stats:   stats,
	}
}

func computeStats(scores []float64) models.ScoreStats {
	min, max := scores[0], scores[0]
	sum := 0.0
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return models.ScoreStats{
		Min:    round3(min),
		Max:    round3(max),
		Avg:    round3(sum / float64(n)),
		Median: round3(median),
	}
}

// round3 keeps score statistics readable in responses and logs.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
