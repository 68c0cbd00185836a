package score

import (
	"sort"
	"strconv"
)

type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Rating is the rarity of one draw relative to its pool.
type Rating struct {
	Tier       Tier    `json:"tier"`
	Percentile float64 `json:"percentile"`
}

// DefaultRating is returned when the pool has no positive scores.
var DefaultRating = Rating{Tier: TierC, Percentile: 50.0}

func (r Rating) PercentileLabel() string {
	return strconv.FormatFloat(r.Percentile, 'f', 1, 64)
}

// Classify rates drawn against the positive draw scores of the rest of pool.
// The drawn entity itself is left out of the comparison set. Only strictly
// lower scores count toward the rank, so ties never inflate a tier.
func Classify(drawn Entity, pool []Entity) Rating {
	scores := make([]float64, 0, len(pool))
	skipped := false
	for _, e := range pool {
		if !skipped && e.ID == drawn.ID {
			skipped = true
			continue
		}
		if s := e.DrawScore(); s > 0 {
			scores = append(scores, s)
		}
	}
	if len(scores) == 0 {
		return DefaultRating
	}
	sort.Float64s(scores)

	target := drawn.DrawScore()
	rank := sort.SearchFloat64s(scores, target) // first index with scores[i] >= target
	percentile := 100 * float64(rank) / float64(len(scores))

	return Rating{Tier: tierFor(percentile), Percentile: percentile}
}

func tierFor(percentile float64) Tier {
	switch {
	case percentile >= 90:
		return TierS
	case percentile >= 70:
		return TierA
	case percentile >= 40:
		return TierB
	case percentile >= 10:
		return TierC
	default:
		return TierD
	}
}
