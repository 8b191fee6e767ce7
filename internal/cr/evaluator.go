package cr

import (
	"sort"
	"strings"

	"mediacore/internal/catalog"
)

// evalFunc computes a criterion's score for one profile. ok=false means
// the criterion is neutral for this item (missing data): excluded from
// both numerator and denominator, per spec §4.3.
type evalFunc func(p catalog.ScoringProfile) (score float64, ok bool)

type compiled struct {
	name   string
	weight float64
	must   bool
	eval   evalFunc
}

// compile turns a validated Config into a fixed evaluator plan, avoiding
// dynamic field-name lookup at scoring time per spec §9.
func compile(cfg Config) []compiled {
	plan := make([]compiled, 0, len(cfg))
	for name, crit := range cfg {
		plan = append(plan, compiled{name: name, weight: crit.Weight, must: crit.Must, eval: evaluatorFor(name, crit)})
	}
	// Stable order by name keeps breakdown iteration order deterministic
	// across runs, matching the byte-identical-ordering invariant.
	sort.Slice(plan, func(i, j int) bool { return plan[i].name < plan[j].name })
	return plan
}

func evaluatorFor(name string, c Criterion) evalFunc {
	if strings.HasPrefix(name, KindCustomPrefix) {
		return customEvaluator(c)
	}
	switch c.Kind {
	case KindGenre:
		return genreEvaluator(c)
	case KindMinRating:
		return minRatingEvaluator(c)
	case KindMaxRating:
		return maxRatingEvaluator(c)
	case KindRuntime:
		return windowEvaluator(c.Min, c.Max, c.ShoulderSize, func(p catalog.ScoringProfile) (float64, bool) {
			return float64(p.RuntimeSeconds), p.RuntimeSeconds > 0
		})
	case KindReleaseYear:
		return windowEvaluator(c.Min, c.Max, c.ShoulderSize, func(p catalog.ScoringProfile) (float64, bool) {
			return float64(p.ReleaseYear), p.ReleaseYear > 0
		})
	case KindMaturityRating:
		return membershipEvaluator(c.Values, func(p catalog.ScoringProfile) (string, bool) {
			return p.MaturityRating, p.MaturityRating != ""
		})
	case KindLanguage:
		return membershipEvaluator(c.Values, func(p catalog.ScoringProfile) (string, bool) {
			return p.Language, p.Language != ""
		})
	case KindDirectorScore:
		return minThresholdEvaluator(c.ScoreMin, func(p catalog.ScoringProfile) (float64, bool) {
			if p.DirectorAggregate == nil {
				return 0, false
			}
			return *p.DirectorAggregate, true
		})
	case KindScreenwriterScore:
		return minThresholdEvaluator(c.ScoreMin, func(p catalog.ScoringProfile) (float64, bool) {
			if p.WriterAggregate == nil {
				return 0, false
			}
			return *p.WriterAggregate, true
		})
	case KindCastScore:
		return minThresholdEvaluator(c.ScoreMin, func(p catalog.ScoringProfile) (float64, bool) {
			if p.CastAggregate == nil {
				return 0, false
			}
			return *p.CastAggregate, true
		})
	case KindPopularity:
		return popularityEvaluator(c.PopMin)
	default:
		return func(catalog.ScoringProfile) (float64, bool) { return 0, false }
	}
}

func genreEvaluator(c Criterion) evalFunc {
	want := toSet(c.Values)
	mode := c.Mode
	if mode == "" {
		mode = GenreAny
	}
	return func(p catalog.ScoringProfile) (float64, bool) {
		if len(p.GenreSlugs) == 0 || len(want) == 0 {
			return 0, false
		}
		have := toSet(p.GenreSlugs)
		if mode == GenreAll {
			for g := range want {
				if !have[g] {
					return 0, true
				}
			}
			return 1, true
		}
		for g := range want {
			if have[g] {
				return 1, true
			}
		}
		return 0, true
	}
}

// linearRamp rises from 0 at value-1 to 1 at value+1, clamped to [0,1].
func linearRamp(x, center float64) float64 {
	v := (x - (center - 1)) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minRatingEvaluator(c Criterion) evalFunc {
	return func(p catalog.ScoringProfile) (float64, bool) {
		r, ok := effectiveRating(p)
		if !ok {
			return 0, false
		}
		return linearRamp(r, c.Value), true
	}
}

func maxRatingEvaluator(c Criterion) evalFunc {
	return func(p catalog.ScoringProfile) (float64, bool) {
		r, ok := effectiveRating(p)
		if !ok {
			return 0, false
		}
		// Symmetric downward: 1 below value-1, 0 above value+1.
		return 1 - linearRamp(r, c.Value), true
	}
}

func effectiveRating(p catalog.ScoringProfile) (float64, bool) {
	if p.PersonalRating != nil {
		return *p.PersonalRating, true
	}
	if p.ExternalVotes > 0 {
		return p.ExternalRating, true
	}
	return 0, false
}

// windowEvaluator is 1 inside [min,max], linearly decaying to 0 over
// shoulder units outside the window. A nil bound is unbounded on that side.
func windowEvaluator(min, max *float64, shoulder float64, value func(catalog.ScoringProfile) (float64, bool)) evalFunc {
	if shoulder <= 0 {
		shoulder = 1
	}
	return func(p catalog.ScoringProfile) (float64, bool) {
		v, ok := value(p)
		if !ok {
			return 0, false
		}
		if (min == nil || v >= *min) && (max == nil || v <= *max) {
			return 1, true
		}
		var dist float64
		if min != nil && v < *min {
			dist = *min - v
		} else if max != nil && v > *max {
			dist = v - *max
		}
		score := 1 - dist/shoulder
		if score < 0 {
			score = 0
		}
		return score, true
	}
}

func membershipEvaluator(values []string, value func(catalog.ScoringProfile) (string, bool)) evalFunc {
	want := toSet(values)
	return func(p catalog.ScoringProfile) (float64, bool) {
		v, ok := value(p)
		if !ok {
			return 0, false
		}
		if want[strings.ToLower(v)] {
			return 1, true
		}
		return 0, true
	}
}

func minThresholdEvaluator(min float64, value func(catalog.ScoringProfile) (float64, bool)) evalFunc {
	return func(p catalog.ScoringProfile) (float64, bool) {
		v, ok := value(p)
		if !ok {
			return 0, false
		}
		return linearRamp(v, min), true
	}
}

func popularityEvaluator(min *float64) evalFunc {
	return func(p catalog.ScoringProfile) (float64, bool) {
		if p.Popularity <= 0 {
			return 0, false
		}
		// Popularity is assumed pre-normalized to [0,100] by the catalog
		// store; clamp defensively.
		norm := p.Popularity / 100
		if norm > 1 {
			norm = 1
		}
		if min != nil && p.Popularity < *min {
			return 0, true
		}
		return norm, true
	}
}

func customEvaluator(c Criterion) evalFunc {
	return func(p catalog.ScoringProfile) (float64, bool) {
		attr, ok := p.CustomScalars[c.CustomName]
		if !ok {
			return 0, false
		}
		switch attr.Kind {
		case catalog.AttrNumber:
			if c.CustomMin != nil || c.CustomMax != nil {
				return windowEvaluator(c.CustomMin, c.CustomMax, 1, func(catalog.ScoringProfile) (float64, bool) {
					return attr.Number, true
				})(p)
			}
			if c.CustomValue != nil && c.CustomValue.Kind == catalog.AttrNumber {
				if attr.Number == c.CustomValue.Number {
					return 1, true
				}
				return 0, true
			}
			return 0, false
		case catalog.AttrString:
			if c.CustomValue != nil && c.CustomValue.Kind == catalog.AttrString {
				if strings.EqualFold(attr.Str, c.CustomValue.Str) {
					return 1, true
				}
				return 0, true
			}
			return 0, false
		case catalog.AttrBool:
			if c.CustomValue != nil && c.CustomValue.Kind == catalog.AttrBool {
				if attr.Bool == c.CustomValue.Bool {
					return 1, true
				}
				return 0, true
			}
			return 0, false
		case catalog.AttrStringList:
			if len(c.CustomValues) == 0 {
				return 0, false
			}
			// Array inputs use Jaccard overlap, per the open question
			// resolved in SPEC_FULL.md.
			return jaccard(attr.List, c.CustomValues), true
		default:
			return 0, false
		}
	}
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa, sb := toSet(a), toSet(b)
	inter := 0
	for k := range sa {
		if sb[k] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}
