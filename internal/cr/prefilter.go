package cr

import "strings"

// preFilter narrows candidates by genre before full scoring when the
// candidate count exceeds threshold, per spec §4.3's O(N·K) performance
// contract: building a genre index is O(N), and each must-genre lookup
// against it is O(1), avoiding a full K-criteria pass over every item.
func preFilter(candidates []Candidate, config Config, threshold int) []Candidate {
	if threshold <= 0 || len(candidates) <= threshold {
		return candidates
	}

	var mustGenres map[string]bool
	mode := GenreAny
	for _, crit := range config {
		if crit.Kind == KindGenre && crit.Must {
			mustGenres = toSet(crit.Values)
			mode = crit.Mode
			break
		}
	}
	if len(mustGenres) == 0 {
		return candidates
	}

	index := make(map[string][]int, len(candidates))
	for i, c := range candidates {
		for _, g := range c.Profile.GenreSlugs {
			key := strings.ToLower(g)
			index[key] = append(index[key], i)
		}
	}

	keep := make(map[int]bool)
	if mode == GenreAll {
		counts := make(map[int]int)
		for g := range mustGenres {
			for _, idx := range index[g] {
				counts[idx]++
			}
		}
		for idx, n := range counts {
			if n == len(mustGenres) {
				keep[idx] = true
			}
		}
	} else {
		for g := range mustGenres {
			for _, idx := range index[g] {
				keep[idx] = true
			}
		}
	}

	out := make([]Candidate, 0, len(keep))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// RankWithThreshold is Rank preceded by the genre-index pre-filter of spec
// §4.3's performance contract, used when the caller's candidate pool may
// exceed the configured threshold T.
func RankWithThreshold(candidates []Candidate, config Config, threshold int) ([]ScoredItem, error) {
	return Rank(preFilter(candidates, config, threshold), config)
}
