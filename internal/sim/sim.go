// Package sim implements the Retriever (spec §4.2): hybrid k-nearest
// search under embedding similarity, genre/people overlap, era and rating
// affinity.
package sim

import (
	"context"
	"math"
	"sort"
	"strings"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
)

// Weights are the hybrid score's term weights; spec §4.2 requires they sum
// to 1 (Normalize enforces this for callers that don't).
type Weights struct {
	Vector         float64 // alpha
	GenreOverlap   float64 // beta
	PeopleOverlap  float64 // gamma
	EraAffinity    float64 // delta
	RatingAffinity float64 // epsilon
}

// DefaultWeights is an even-ish split favoring vector similarity, used when
// a caller supplies no weights.
var DefaultWeights = Weights{Vector: 0.5, GenreOverlap: 0.2, PeopleOverlap: 0.15, EraAffinity: 0.1, RatingAffinity: 0.05}

// Normalize rescales weights to sum to 1, or returns DefaultWeights if all
// are zero.
func (w Weights) Normalize() Weights {
	sum := w.Vector + w.GenreOverlap + w.PeopleOverlap + w.EraAffinity + w.RatingAffinity
	if sum <= 0 {
		return DefaultWeights
	}
	return Weights{
		Vector:         w.Vector / sum,
		GenreOverlap:   w.GenreOverlap / sum,
		PeopleOverlap:  w.PeopleOverlap / sum,
		EraAffinity:    w.EraAffinity / sum,
		RatingAffinity: w.RatingAffinity / sum,
	}
}

// Breakdown is a candidate's per-term contribution.
type Breakdown struct {
	Vector         float64
	GenreOverlap   float64
	PeopleOverlap  float64
	EraAffinity    float64
	RatingAffinity float64
}

// Hit is one result of Nearest.
type Hit struct {
	ItemID    string
	Score     float64
	Breakdown Breakdown
	// Reasons holds the term names whose contribution >= 0.15, per spec §4.2.
	Reasons []string
	Stale   bool
}

// Result wraps Nearest's output with the undersized flag of spec §4.2.
type Result struct {
	Hits       []Hit
	Undersized bool
}

// Probe is either an item id (ItemID, using its stored embedding) or free
// text (embedded on demand using the same embedder IDX uses).
type Probe struct {
	ItemID string
	Text   string
}

// Retriever answers nearest-neighbor queries over the catalog.
type Retriever struct {
	store    catalog.Store
	embedder catalog.Embedder
	vectors  catalog.VectorStore
	tauYears float64
	recipeID string
}

// New constructs a Retriever. tauYears is the era-affinity decay constant
// (default 10 per spec §4.2); recipeID is the current chunk recipe, and a
// hit whose profile was produced under another recipe is flagged Stale.
// The embedder model id is not compared.
func New(store catalog.Store, embedder catalog.Embedder, vectors catalog.VectorStore, tauYears float64, recipeID string) *Retriever {
	if tauYears <= 0 {
		tauYears = 10
	}
	return &Retriever{store: store, embedder: embedder, vectors: vectors, tauYears: tauYears, recipeID: recipeID}
}

// Nearest returns the k most similar items to probe under the hybrid
// distance of spec §4.2. An item probe is not returned among its own hits.
func (r *Retriever) Nearest(ctx context.Context, probe Probe, k int, filter catalog.Filter, weights Weights) (Result, error) {
	weights = weights.Normalize()

	probeVec, probeProfile, err := r.resolveProbe(ctx, probe)
	if err != nil {
		return Result{}, err
	}
	if probeVec == nil {
		return Result{}, apperrors.New(apperrors.KindNotIndexed, "probe has no embedding")
	}

	allow, err := r.allowedIDs(ctx, filter)
	if err != nil {
		return Result{}, err
	}

	// Query a generous superset from the vector store, then re-rank with
	// the full hybrid score; the vector store only needs to supply cosine.
	vecK := k * 5
	if vecK < k+20 {
		vecK = k + 20
	}
	vhits, err := r.vectors.Query(ctx, probeVec, vecK, allow)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "vector store query")
	}

	var hits []Hit
	for _, vh := range vhits {
		if probe.ItemID != "" && vh.ItemID == probe.ItemID {
			continue
		}
		profile, err := r.store.GetScoringProfile(ctx, vh.ItemID)
		if err != nil || profile == nil {
			continue
		}
		breakdown := r.score(probeProfile, probeVec, *profile, vh.Cosine)
		total := weights.Vector*breakdown.Vector +
			weights.GenreOverlap*breakdown.GenreOverlap +
			weights.PeopleOverlap*breakdown.PeopleOverlap +
			weights.EraAffinity*breakdown.EraAffinity +
			weights.RatingAffinity*breakdown.RatingAffinity

		stale := profile.ChunkRecipeID != r.recipeID
		hits = append(hits, Hit{
			ItemID:    vh.ItemID,
			Score:     total,
			Breakdown: breakdown,
			Reasons:   reasonsFrom(weights, breakdown),
			Stale:     stale,
		})
	}

	sortHits(hits, r.store, ctx)

	undersized := len(hits) < k
	if len(hits) > k {
		hits = hits[:k]
	}
	return Result{Hits: hits, Undersized: undersized}, nil
}

func (r *Retriever) resolveProbe(ctx context.Context, probe Probe) ([]float32, *catalog.ScoringProfile, error) {
	if probe.ItemID != "" {
		emb, err := r.store.GetEmbedding(ctx, probe.ItemID)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "load probe embedding")
		}
		if emb == nil {
			return nil, nil, nil
		}
		profile, err := r.store.GetScoringProfile(ctx, probe.ItemID)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "load probe profile")
		}
		return emb.Vector, profile, nil
	}
	if probe.Text == "" {
		return nil, nil, apperrors.New(apperrors.KindInputInvalid, "probe requires an item id or text")
	}
	vecs, err := r.embedder.Embed(ctx, []string{probe.Text})
	if err != nil || len(vecs) == 0 {
		return nil, nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "embed free-text probe")
	}
	return vecs[0], nil, nil
}

func (r *Retriever) allowedIDs(ctx context.Context, filter catalog.Filter) (map[string]bool, error) {
	allow := map[string]bool{}
	cursor := catalog.Cursor{}
	for {
		items, next, more, err := r.store.IterItems(ctx, filter, cursor)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "iter_items for filter")
		}
		for _, it := range items {
			if filter.ExcludeIDs != nil && filter.ExcludeIDs[it.ID] {
				continue
			}
			allow[it.ID] = true
		}
		if !more {
			break
		}
		cursor = next
	}
	return allow, nil
}

func (r *Retriever) score(probeProfile *catalog.ScoringProfile, probeVec []float32, candidate catalog.ScoringProfile, cosine float64) Breakdown {
	b := Breakdown{Vector: cosine}
	if probeProfile == nil {
		return b
	}
	b.GenreOverlap = jaccard(probeProfile.GenreSlugs, candidate.GenreSlugs)
	b.PeopleOverlap = overlap(creators(*probeProfile), creators(candidate))
	b.EraAffinity = eraAffinity(probeProfile.ReleaseYear, candidate.ReleaseYear, r.tauYears)
	b.RatingAffinity = ratingAffinity(effectiveRating(*probeProfile), effectiveRating(candidate))
	return b
}

func effectiveRating(p catalog.ScoringProfile) float64 {
	if p.PersonalRating != nil {
		return *p.PersonalRating
	}
	return p.ExternalRating
}

// creators is the person-id set a candidate's people-overlap term is
// computed against: directors, writers and top-billed cast.
func creators(p catalog.ScoringProfile) []string {
	out := make([]string, 0, len(p.DirectorIDs)+len(p.WriterIDs)+len(p.CastIDs))
	out = append(out, p.DirectorIDs...)
	out = append(out, p.WriterIDs...)
	out = append(out, p.CastIDs...)
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	minLen := len(setA)
	if len(setB) < minLen {
		minLen = len(setB)
	}
	if minLen == 0 {
		minLen = 1
	}
	return float64(inter) / float64(minLen)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

func eraAffinity(a, b int, tau float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	diff := math.Abs(float64(a - b))
	return math.Exp(-diff / tau)
}

func ratingAffinity(a, b float64) float64 {
	v := 1 - math.Abs(a-b)/10
	if v < 0 {
		return 0
	}
	return v
}

var reasonNames = []struct {
	name  string
	get   func(Breakdown) float64
}{
	{"vector", func(b Breakdown) float64 { return b.Vector }},
	{"genre_overlap", func(b Breakdown) float64 { return b.GenreOverlap }},
	{"people_overlap", func(b Breakdown) float64 { return b.PeopleOverlap }},
	{"era_affinity", func(b Breakdown) float64 { return b.EraAffinity }},
	{"rating_affinity", func(b Breakdown) float64 { return b.RatingAffinity }},
}

func reasonsFrom(w Weights, b Breakdown) []string {
	var reasons []string
	contributions := map[string]float64{
		"vector":          w.Vector * b.Vector,
		"genre_overlap":   w.GenreOverlap * b.GenreOverlap,
		"people_overlap":  w.PeopleOverlap * b.PeopleOverlap,
		"era_affinity":    w.EraAffinity * b.EraAffinity,
		"rating_affinity": w.RatingAffinity * b.RatingAffinity,
	}
	for _, rn := range reasonNames {
		if contributions[rn.name] >= 0.15 {
			reasons = append(reasons, rn.name)
		}
	}
	return reasons
}

// sortHits applies spec §4.2's tie-break order: descending score; ties
// within 1e-6 broken by higher external rating, then newer release, then
// lexicographic id.
func sortHits(hits []Hit, store catalog.Store, ctx context.Context) {
	type enriched struct {
		hit     Hit
		rating  float64
		year    int
	}
	items := make([]enriched, len(hits))
	for i, h := range hits {
		e := enriched{hit: h}
		if p, err := store.GetScoringProfile(ctx, h.ItemID); err == nil && p != nil {
			e.rating = p.ExternalRating
			e.year = p.ReleaseYear
		}
		items[i] = e
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if math.Abs(a.hit.Score-b.hit.Score) > 1e-6 {
			return a.hit.Score > b.hit.Score
		}
		if a.rating != b.rating {
			return a.rating > b.rating
		}
		if a.year != b.year {
			return a.year > b.year
		}
		return a.hit.ItemID < b.hit.ItemID
	})
	for i, e := range items {
		hits[i] = e.hit
	}
}
