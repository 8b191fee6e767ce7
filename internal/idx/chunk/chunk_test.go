package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediacore/internal/catalog"
)

func sampleInput() Input {
	return Input{
		Item: catalog.Item{
			Title:       "The Long Dark",
			Overview:    "A survivor braves the wilderness.",
			Tagline:     "Alone against nature",
			Kind:        catalog.KindFilm,
			ReleaseDate: time.Date(1999, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
		TopCast:    []string{"A Actor", "B Actor"},
		Directors:  []string{"C Director"},
		Writers:    []string{"D Writer"},
		GenreNames: []string{"sci-fi", "noir"},
		ReviewTags: []string{"Bleak", "bleak", "slow-burn"},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := sampleInput()
	a := Build(in)
	b := Build(in)
	assert.Equal(t, a, b)
}

func TestBuildOmitsOriginalTitleWhenSame(t *testing.T) {
	in := sampleInput()
	in.Item.OriginalTitle = "The Long Dark"
	out := Build(in)
	assert.Equal(t, 1, countOccurrences(out, "The Long Dark"))
}

func TestBuildIncludesOriginalTitleWhenDifferent(t *testing.T) {
	in := sampleInput()
	in.Item.OriginalTitle = "Le Long Noir"
	out := Build(in)
	assert.Contains(t, out, "Le Long Noir")
}

func TestBuildDedupesReviewTagsCaseInsensitively(t *testing.T) {
	in := sampleInput()
	out := Build(in)
	assert.Equal(t, 1, countOccurrences(out, "Bleak")+countOccurrences(out, "bleak"))
}

func TestBuildCapsTopCastToEight(t *testing.T) {
	in := sampleInput()
	in.TopCast = []string{"Cast 1", "Cast 2", "Cast 3", "Cast 4", "Cast 5", "Cast 6", "Cast 7", "Cast 8", "Cast 9", "Cast 10"}
	out := Build(in)
	assert.NotContains(t, out, "Cast 9")
	assert.NotContains(t, out, "Cast 10")
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
