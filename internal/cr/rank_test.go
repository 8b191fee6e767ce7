package cr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mediacore/internal/catalog"
)

func profile(id string, genres []string, rating float64, runtime int, directorAgg float64) catalog.ScoringProfile {
	return catalog.ScoringProfile{
		ItemID:            id,
		GenreSlugs:        genres,
		ExternalRating:    rating,
		ExternalVotes:     100,
		RuntimeSeconds:    runtime,
		DirectorAggregate: &directorAgg,
	}
}

func TestRankSciFiPresetOrdersByDirectorScore(t *testing.T) {
	candidates := []Candidate{
		{Profile: profile("I1", []string{"sci-fi"}, 8.7, 8160, 8.0)},
		{Profile: profile("I2", []string{"sci-fi", "noir"}, 8.1, 7020, 8.5)},
		{Profile: profile("I3", []string{"anime", "sci-fi"}, 8.6, 1560, 7.2)},
	}
	config := Config{
		"genre":          {Kind: KindGenre, Weight: 1.0, Values: []string{"sci-fi"}},
		"min_rating":     {Kind: KindMinRating, Weight: 0.8, Value: 7.5},
		"director_score": {Kind: KindDirectorScore, Weight: 0.7, ScoreMin: 7.5},
	}

	results, err := Rank(candidates, config)
	require.NoError(t, err)
	require.Len(t, results, 3)

	order := []string{results[0].ItemID, results[1].ItemID, results[2].ItemID}
	require.Equal(t, []string{"I2", "I1", "I3"}, order)

	for _, r := range results {
		require.Greater(t, r.Score, 0.0)
		require.Less(t, r.Score, 1.0)
		require.Contains(t, r.Breakdown, "genre")
		require.Contains(t, r.Breakdown, "min_rating")
		require.Contains(t, r.Breakdown, "director_score")
	}
}

func TestRankNeutralizesMissingLanguage(t *testing.T) {
	withLang := profile("I3", nil, 8.0, 6000, 7.0)
	withLang.Language = "en"
	withoutLang := profile("I4", nil, 8.0, 6000, 7.0)

	config := Config{
		"language":   {Kind: KindLanguage, Weight: 0.5, Values: []string{"en"}},
		"min_rating": {Kind: KindMinRating, Weight: 1.0, Value: 7.0},
	}

	results, err := Rank([]Candidate{{Profile: withLang}, {Profile: withoutLang}}, config)
	require.NoError(t, err)

	var i4 ScoredItem
	for _, r := range results {
		if r.ItemID == "I4" {
			i4 = r
		}
	}
	require.NotContains(t, i4.Breakdown, "language")
	require.False(t, i4.NoApplicableCriteria)
	// Only min_rating contributed: with rating 8.0 against min_rating=7.0,
	// linearRamp(8,7) = 1, so the weighted average is exactly 1.
	require.InDelta(t, 1.0, i4.Score, 1e-9)
}

func TestRankRemovesItemsFailingMustConstraint(t *testing.T) {
	pass := profile("pass", []string{"sci-fi"}, 9.0, 6000, 8.0)
	fail := profile("fail", []string{"romance"}, 9.0, 6000, 8.0)

	config := Config{
		"genre": {Kind: KindGenre, Weight: 1.0, Must: true, Values: []string{"sci-fi"}},
	}

	results, err := Rank([]Candidate{{Profile: pass}, {Profile: fail}}, config)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "pass", results[0].ItemID)
}

func TestRankEmptyCandidatesReturnsEmpty(t *testing.T) {
	results, err := Rank(nil, Config{"genre": {Kind: KindGenre, Weight: 1.0, Values: []string{"sci-fi"}}})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRankFlagsNoApplicableCriteria(t *testing.T) {
	p := profile("I5", nil, 0, 0, 0)
	p.ExternalVotes = 0
	p.DirectorAggregate = nil

	config := Config{
		"min_rating": {Kind: KindMinRating, Weight: 1.0, Value: 7.0},
	}
	results, err := Rank([]Candidate{{Profile: p}}, config)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].NoApplicableCriteria)
	require.Equal(t, 0.0, results[0].Score)
}

func TestValidateRejectsUnknownCriterion(t *testing.T) {
	config := Config{"bogus": {Kind: "not_a_kind", Weight: 1}}
	err := config.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNegativeWeight(t *testing.T) {
	config := Config{"genre": {Kind: KindGenre, Weight: -1}}
	err := config.Validate()
	require.Error(t, err)
}

func TestCustomJaccardCriterion(t *testing.T) {
	withTags := profile("I6", nil, 0, 0, 0)
	withTags.CustomScalars = map[string]catalog.Attr{
		"tags": {Kind: catalog.AttrStringList, List: []string{"noir", "heist"}},
	}
	config := Config{
		"custom.tags": {Kind: "", Weight: 1.0, CustomName: "tags", CustomValues: []string{"noir", "drama"}},
	}
	results, err := Rank([]Candidate{{Profile: withTags}}, config)
	require.NoError(t, err)
	require.InDelta(t, 1.0/3.0, results[0].Score, 1e-9)
}

func TestPreFilterNarrowsByMustGenreAboveThreshold(t *testing.T) {
	candidates := make([]Candidate, 0, 10)
	for i := 0; i < 8; i++ {
		candidates = append(candidates, Candidate{Profile: profile("other", []string{"romance"}, 5, 0, 0)})
	}
	candidates = append(candidates, Candidate{Profile: profile("match", []string{"sci-fi"}, 5, 0, 0)})
	config := Config{"genre": {Kind: KindGenre, Weight: 1.0, Must: true, Values: []string{"sci-fi"}}}

	filtered := preFilter(candidates, config, 5)
	require.Len(t, filtered, 1)
	require.Equal(t, "match", filtered[0].Profile.ItemID)

	// Below threshold: no filtering applied.
	require.Len(t, preFilter(candidates, config, 50), 9)
}
