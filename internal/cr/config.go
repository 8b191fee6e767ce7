// Package cr implements the Criteria Ranker (spec §4.3): a deterministic,
// weighted, normalized multi-criteria scorer over ScoringProfiles.
package cr

import (
	"fmt"
	"math"
	"strings"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
)

// Kind enumerates the closed set of recognized criteria, per spec §4.3's
// ENUMERATED table. This is the "heterogeneous criteria with shared
// interface" redesign of spec §9: a sum type compiled into a fixed
// evaluator plan, rather than dynamic field-name lookup at scoring time.
type Kind string

const (
	KindGenre              Kind = "genre"
	KindMinRating          Kind = "min_rating"
	KindMaxRating          Kind = "max_rating"
	KindRuntime            Kind = "runtime"
	KindReleaseYear        Kind = "release_year"
	KindMaturityRating     Kind = "maturity_rating"
	KindLanguage           Kind = "language"
	KindDirectorScore      Kind = "director_score"
	KindScreenwriterScore  Kind = "screenwriter_score"
	KindCastScore          Kind = "cast_score"
	KindPopularity         Kind = "popularity"
	KindCustomPrefix            = "custom."
)

// GenreMode controls how genre.values matches an item's genres.
type GenreMode string

const (
	GenreAny GenreMode = "any"
	GenreAll GenreMode = "all"
)

// Criterion is one entry in a CriteriaConfig. Only the fields relevant to
// Kind are read; the rest are zero-valued.
type Criterion struct {
	Kind   Kind
	Weight float64
	// Must marks this a hard filter: items failing it are removed from the
	// candidate set before scoring, per spec §4.3. Explicit per the
	// migration decision recorded in SPEC_FULL.md/DESIGN.md — never
	// inferred from Weight == 1.0.
	Must bool

	Values []string  // genre.values, maturity_rating.values, language.values
	Mode   GenreMode // genre.mode

	Value float64 // min_rating.value, max_rating.value

	Min, Max     *float64 // runtime/release_year window; custom numeric range
	ShoulderSize float64  // runtime/release_year decay shoulder, in the criterion's own units

	ScoreMin float64 // director_score/screenwriter_score/cast_score.min
	CastTopN int     // cast_score.N; not read by the evaluator, which uses the profile's CastAggregate (IDX computes it over the top 3 billed cast)

	PopMin *float64 // popularity.min

	CustomName   string
	CustomValue  *catalog.Attr  // custom.<name>.value (equality)
	CustomValues []string       // custom.<name>.values (set overlap / membership)
	CustomMin    *float64
	CustomMax    *float64
}

// Config is a CriteriaConfig: named criteria plus their weights. It is
// itself a map so presets can capture a snapshot by serializing it.
type Config map[string]Criterion

// Validate rejects malformed configs at the call boundary per spec §7
// InputInvalid: unknown criterion, negative weight, non-finite numbers.
func (c Config) Validate() error {
	for name, crit := range c {
		if crit.Weight < 0 || math.IsNaN(crit.Weight) || math.IsInf(crit.Weight, 0) {
			return apperrors.New(apperrors.KindInputInvalid, "criterion %q has invalid weight %v", name, crit.Weight)
		}
		if !strings.HasPrefix(name, KindCustomPrefix) {
			switch crit.Kind {
			case KindGenre, KindMinRating, KindMaxRating, KindRuntime, KindReleaseYear,
				KindMaturityRating, KindLanguage, KindDirectorScore, KindScreenwriterScore,
				KindCastScore, KindPopularity:
			default:
				return apperrors.New(apperrors.KindInputInvalid, "unknown criterion kind %q for %q", crit.Kind, name)
			}
		}
		for _, v := range []*float64{crit.Min, crit.Max, crit.PopMin, crit.CustomMin, crit.CustomMax} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
				return apperrors.New(apperrors.KindInputInvalid, "criterion %q has a non-finite bound", name)
			}
		}
	}
	return nil
}

func (c Config) String() string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	return fmt.Sprintf("Config(%v)", names)
}
