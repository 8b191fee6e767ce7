// Package chunk builds IDX's canonical, deterministic, versioned text chunk
// recipe (spec §4.1) consumed by the embedder.
package chunk

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"mediacore/internal/catalog"
)

// RecipeID is the current chunk recipe's version. Any change to Build's
// output shape must bump this, which forces a reindex per spec §4.1.
const RecipeID = "v1"

var caser = cases.Fold()

// Input bundles everything Build needs beyond the bare Item.
type Input struct {
	Item         catalog.Item
	TopCast      []string // names, already ordered by billing, already capped to 8
	Directors    []string
	Writers      []string
	GenreNames   []string
	ReviewTags   []string // deduped, already capped to 16
}

// Build renders the canonical chunk recipe:
//
//	title
//	original_title (if differs)
//	overview
//	tagline
//	top_cast_names (up to 8, by billing)
//	director_names
//	writer_names
//	genre_names
//	tags_from_reviews (deduped, up to 16)
//	year
//	kind
//
// Build is pure and deterministic: same Input always yields the same string.
func Build(in Input) string {
	var b strings.Builder

	writeLine(&b, in.Item.Title)
	if caser.String(in.Item.OriginalTitle) != caser.String(in.Item.Title) && in.Item.OriginalTitle != "" {
		writeLine(&b, in.Item.OriginalTitle)
	}
	writeLine(&b, in.Item.Overview)
	writeLine(&b, in.Item.Tagline)

	cast := capList(in.TopCast, 8)
	writeLine(&b, strings.Join(cast, ", "))
	writeLine(&b, strings.Join(in.Directors, ", "))
	writeLine(&b, strings.Join(in.Writers, ", "))
	writeLine(&b, strings.Join(in.GenreNames, ", "))

	tags := dedupeCapped(in.ReviewTags, 16)
	writeLine(&b, strings.Join(tags, ", "))

	if !in.Item.ReleaseDate.IsZero() {
		writeLine(&b, fmt.Sprintf("%d", in.Item.ReleaseDate.Year()))
	} else {
		writeLine(&b, "")
	}
	b.WriteString(string(in.Item.Kind))

	return b.String()
}

func writeLine(b *strings.Builder, s string) {
	b.WriteString(s)
	b.WriteByte('\n')
}

func capList(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// dedupeCapped case-folds for comparison (so "Dark" and "dark" collapse),
// preserves first-seen order, and caps to n.
func dedupeCapped(items []string, n int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, it := range items {
		key := caser.String(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}
