package cr

import (
	"sort"

	"mediacore/internal/catalog"
)

const epsilon = 1e-9

// matchedThreshold is the per-criterion score at or above which a
// criterion is reported in ScoredItem.MatchedCriteria, per spec §4.3.
const matchedThreshold = 0.6

// Candidate is one item's scoring inputs, plus the tie-break fields spec
// §4.3 needs that aren't part of ScoringProfile's criterion surface.
type Candidate struct {
	Profile     catalog.ScoringProfile
	ReleaseDate int64 // unix seconds, for tie-break; ReleaseYear alone can't order within a year
}

// ScoredItem is one ranked result, per spec §4.3's output contract.
type ScoredItem struct {
	ItemID               string
	Score                float64
	Breakdown            map[string]float64
	MatchedCriteria      []string
	NoApplicableCriteria bool
}

// Rank scores and orders candidates under config, per spec §4.3: hard
// constraints (Must) remove candidates before scoring; the remaining
// score is a weighted average over active (non-neutral) criteria only.
func Rank(candidates []Candidate, config Config) ([]ScoredItem, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	plan := compile(config)

	out := make([]ScoredItem, 0, len(candidates))
	for _, cand := range candidates {
		passed := true
		for _, c := range plan {
			if !c.must {
				continue
			}
			score, ok := c.eval(cand.Profile)
			if !ok || score < matchedThreshold {
				passed = false
				break
			}
		}
		if !passed {
			continue
		}

		breakdown := make(map[string]float64, len(plan))
		var num, den float64
		var matched []string
		activeCount := 0
		for _, c := range plan {
			score, ok := c.eval(cand.Profile)
			if !ok {
				continue
			}
			activeCount++
			breakdown[c.name] = score
			num += c.weight * score
			den += c.weight
			if score >= matchedThreshold {
				matched = append(matched, c.name)
			}
		}

		item := ScoredItem{
			ItemID:               cand.Profile.ItemID,
			Breakdown:            breakdown,
			MatchedCriteria:      matched,
			NoApplicableCriteria: activeCount == 0,
		}
		if den > epsilon {
			item.Score = num / den
		} else {
			item.Score = num / epsilon
		}
		out = append(out, item)
	}

	sortScored(out, candidates)
	return out, nil
}

// sortScored applies spec §4.3's deterministic tie-break: score desc,
// external rating desc, release date desc, id asc.
func sortScored(items []ScoredItem, candidates []Candidate) {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.Profile.ItemID] = c
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ca, cb := byID[a.ItemID], byID[b.ItemID]
		if ca.Profile.ExternalRating != cb.Profile.ExternalRating {
			return ca.Profile.ExternalRating > cb.Profile.ExternalRating
		}
		if ca.ReleaseDate != cb.ReleaseDate {
			return ca.ReleaseDate > cb.ReleaseDate
		}
		return a.ItemID < b.ItemID
	})
}
