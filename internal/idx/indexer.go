// Package idx implements the Indexer (spec §4.1): it derives and
// maintains each Item's ScoringProfile and EmbeddingRecord so CR and SIM
// never touch normalized catalog tables.
package idx

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
	"mediacore/internal/idx/chunk"
	"mediacore/internal/logging"
)

// ItemResult is one item's outcome within a bulk reindex, per spec §7:
// "IDX failures are isolated per-item".
type ItemResult struct {
	ItemID string
	Err    error
}

// Report is the result of reindex_bulk, backing the IndexReport of spec §6.
type Report struct {
	JobID     string
	Total     int
	Succeeded int
	Failed    int
	Results   []ItemResult
}

// Indexer derives ScoringProfile and EmbeddingRecord for catalog items.
type Indexer struct {
	store    catalog.Store
	embedder catalog.Embedder
	vectors  catalog.VectorStore
	people   *PersonAggregateIndex
	recipeID string

	// inflight collapses concurrent reindex(same_id) calls: at most one
	// running plus one pending, per spec §5.
	mu      sync.Mutex
	running map[string]chan struct{}
	pending map[string]bool
}

// New constructs an Indexer using the current chunk recipe.
func New(store catalog.Store, embedder catalog.Embedder, vectors catalog.VectorStore) *Indexer {
	return &Indexer{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		people:   NewPersonAggregateIndex(store),
		recipeID: chunk.RecipeID,
		running:  map[string]chan struct{}{},
		pending:  map[string]bool{},
	}
}

// People exposes the person aggregate index so CR callers can read it.
func (ix *Indexer) People() *PersonAggregateIndex { return ix.people }

// Reindex rebuilds both derived records for one item, collapsing concurrent
// calls for the same id per spec §5.
func (ix *Indexer) Reindex(ctx context.Context, itemID string) error {
	requested := false
	for {
		ix.mu.Lock()
		if done, inflight := ix.running[itemID]; inflight {
			// A run is already in flight: mark one pending pass (once per
			// call) and wait for the in-flight run to finish, then re-check.
			// The runner that sees the pending flag performs that pass.
			if !requested {
				ix.pending[itemID] = true
				requested = true
			}
			ix.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if requested {
			// Nothing is in flight: the pending pass this call asked for
			// has been taken over by the runner that saw the flag.
			ix.mu.Unlock()
			return nil
		}
		done := make(chan struct{})
		ix.running[itemID] = done
		ix.pending[itemID] = false
		ix.mu.Unlock()

		err := ix.reindexOnce(ctx, itemID)

		ix.mu.Lock()
		delete(ix.running, itemID)
		rerun := ix.pending[itemID]
		delete(ix.pending, itemID)
		close(done)
		ix.mu.Unlock()

		if rerun {
			continue
		}
		return err
	}
}

func (ix *Indexer) reindexOnce(ctx context.Context, itemID string) error {
	ctx, log := logging.WithItemID(ctx, itemID)

	item, err := ix.store.GetItem(ctx, itemID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "reindex: read item %s", itemID)
	}
	if item == nil {
		// SourceMissing: treated as a delete.
		prior, _ := ix.store.GetEmbedding(ctx, itemID)
		if derr := ix.store.DeleteDerived(ctx, itemID); derr != nil {
			return apperrors.Wrap(apperrors.KindInternal, derr, "reindex: delete derived for vanished item %s", itemID)
		}
		ix.adjustProvenance(ctx, prior, nil)
		return nil
	}

	profile, text, err := ix.buildProfile(ctx, *item)
	if err != nil {
		return err
	}

	prior, _ := ix.store.GetEmbedding(ctx, itemID)
	embedErr := ix.embedAndStore(ctx, itemID, text)

	// Profile write always happens; a failed embedding keeps the existing
	// vector and marks that record Stale, per spec §4.1 atomicity rule.
	if err := ix.store.UpsertScoringProfile(ctx, profile); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "reindex: upsert profile for %s", itemID)
	}

	if embedErr != nil {
		if prior != nil && !prior.Stale {
			prior.Stale = true
			_ = ix.store.UpsertEmbedding(ctx, *prior)
		}
		log.Warn().Err(embedErr).Msg("embedding backend unavailable, profile written, embedding stale")
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, embedErr, "reindex: embedding unavailable for %s", itemID)
	}

	cur, _ := ix.store.GetEmbedding(ctx, itemID)
	ix.adjustProvenance(ctx, prior, cur)

	log.Info().Msg("reindexed item")
	return nil
}

// adjustProvenance keeps the optional provenance ledger (spec §6) in step
// with each reindex: the prior (chunk recipe, embedder model) pair loses
// one count, the one just produced gains one. A store that doesn't
// implement catalog.ProvenanceRecorder is a no-op here.
func (ix *Indexer) adjustProvenance(ctx context.Context, prior, cur *catalog.EmbeddingRecord) {
	rec, ok := ix.store.(catalog.ProvenanceRecorder)
	if !ok {
		return
	}
	log := logging.FromContext(ctx)
	if prior != nil {
		if err := rec.RecordProvenance(ctx, prior.ChunkRecipeID, prior.ModelID, -1); err != nil {
			log.Warn().Err(err).Msg("failed to decrement provenance ledger")
		}
	}
	if cur != nil {
		if err := rec.RecordProvenance(ctx, cur.ChunkRecipeID, cur.ModelID, 1); err != nil {
			log.Warn().Err(err).Msg("failed to increment provenance ledger")
		}
	}
}

func (ix *Indexer) embedAndStore(ctx context.Context, itemID, text string) error {
	vectors, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		if err == nil {
			err = fmt.Errorf("embedder returned no vectors")
		}
		return err
	}
	vec := normalizeL2(vectors[0])

	record := catalog.EmbeddingRecord{
		ItemID:        itemID,
		Vector:        vec,
		ModelID:       ix.embedder.ModelID(),
		ChunkRecipeID: ix.recipeID,
		ProducedAt:    time.Now(),
	}
	if err := ix.store.UpsertEmbedding(ctx, record); err != nil {
		return err
	}
	return ix.vectors.Upsert(ctx, itemID, vec)
}

// normalizeL2 enforces invariant 1 of spec §8: every published embedding is
// L2-normalized to within 1e-6.
func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func (ix *Indexer) buildProfile(ctx context.Context, item catalog.Item) (catalog.ScoringProfile, string, error) {
	credits, err := ix.store.GetCredits(ctx, item.ID)
	if err != nil {
		return catalog.ScoringProfile{}, "", apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "buildProfile: credits for %s", item.ID)
	}
	links, err := ix.store.GetGenreLinks(ctx, item.ID)
	if err != nil {
		return catalog.ScoringProfile{}, "", apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "buildProfile: genre links for %s", item.ID)
	}
	reviewTags, err := ix.store.GetReviewTags(ctx, item.ID)
	if err != nil {
		return catalog.ScoringProfile{}, "", apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "buildProfile: review tags for %s", item.ID)
	}

	cast := castByBilling(credits)
	castNames := make([]string, 0, len(cast))
	var directorIDs, writerIDs []string
	var directorNames, writerNames []string
	for _, c := range credits {
		person, perr := ix.store.GetPerson(ctx, c.PersonID)
		if perr != nil || person == nil {
			continue
		}
		switch {
		case c.Role == catalog.RoleCast:
			// handled via cast slice below
		case c.Role == "crew-directing-director":
			directorIDs = append(directorIDs, c.PersonID)
			directorNames = append(directorNames, person.Name)
		case c.Role == "crew-writing-writer":
			writerIDs = append(writerIDs, c.PersonID)
			writerNames = append(writerNames, person.Name)
		}
	}
	for _, c := range cast {
		person, perr := ix.store.GetPerson(ctx, c.PersonID)
		if perr == nil && person != nil {
			castNames = append(castNames, person.Name)
		}
	}

	genreSlugs := make([]string, 0, len(links))
	genreNames := make([]string, 0, len(links))
	for _, l := range links {
		genreSlugs = append(genreSlugs, l.Genre)
		genreNames = append(genreNames, l.Genre)
	}

	director := aggregateOf(ctx, ix.people, directorIDs)
	writer := aggregateOf(ctx, ix.people, writerIDs)
	castIDs := make([]string, 0, len(cast))
	for _, c := range cast {
		castIDs = append(castIDs, c.PersonID)
	}
	castAgg := topNCastAggregate(ctx, ix.people, castIDs, 3)

	profile := catalog.ScoringProfile{
		ItemID:            item.ID,
		Kind:              item.Kind,
		ReleaseYear:       item.ReleaseDate.Year(),
		RuntimeSeconds:    item.RuntimeSeconds,
		MaturityRating:    item.MaturityRating,
		Language:          item.Language,
		ExternalRating:    item.ExternalRating,
		ExternalVotes:     item.ExternalVotes,
		PersonalRating:    item.PersonalRating,
		Popularity:        item.Popularity,
		GenreSlugs:        genreSlugs,
		DirectorIDs:       directorIDs,
		WriterIDs:         writerIDs,
		CastIDs:           castIDs,
		DirectorAggregate: director,
		WriterAggregate:   writer,
		CastAggregate:     castAgg,
		CustomScalars:     item.CustomAttrs,
		ChunkRecipeID:     ix.recipeID,
		ProducedAt:        time.Now(),
	}

	text := chunk.Build(chunk.Input{
		Item:       item,
		TopCast:    castNames,
		Directors:  directorNames,
		Writers:    writerNames,
		GenreNames: genreNames,
		ReviewTags: reviewTags,
	})

	return profile, text, nil
}

func castByBilling(credits []catalog.Credit) []catalog.Credit {
	var cast []catalog.Credit
	for _, c := range credits {
		if c.Role == catalog.RoleCast {
			cast = append(cast, c)
		}
	}
	sort.Slice(cast, func(i, j int) bool { return cast[i].Billing < cast[j].Billing })
	return cast
}

func aggregateOf(ctx context.Context, idx *PersonAggregateIndex, personIDs []string) *float64 {
	if len(personIDs) == 0 {
		return nil
	}
	var sum float64
	var n int
	for _, id := range personIDs {
		if v, ok, err := idx.Get(ctx, id); err == nil && ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

func topNCastAggregate(ctx context.Context, idx *PersonAggregateIndex, castIDs []string, n int) *float64 {
	if len(castIDs) > n {
		castIDs = castIDs[:n]
	}
	return aggregateOf(ctx, idx, castIDs)
}

// Invalidate removes derived records for an item.
func (ix *Indexer) Invalidate(ctx context.Context, itemID string) error {
	if err := ix.store.DeleteDerived(ctx, itemID); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "invalidate: %s", itemID)
	}
	return nil
}

// ReindexBulk idempotently reindexes every item matching filter.
func (ix *Indexer) ReindexBulk(ctx context.Context, jobID string, filter catalog.Filter) (Report, error) {
	report := Report{JobID: jobID}
	cursor := catalog.Cursor{}
	for {
		items, next, hasMore, err := ix.store.IterItems(ctx, filter, cursor)
		if err != nil {
			return report, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "reindex_bulk: iter_items")
		}
		for _, item := range items {
			report.Total++
			if err := ix.Reindex(ctx, item.ID); err != nil {
				report.Failed++
				report.Results = append(report.Results, ItemResult{ItemID: item.ID, Err: err})
				continue
			}
			report.Succeeded++
			report.Results = append(report.Results, ItemResult{ItemID: item.ID})
		}
		if !hasMore {
			break
		}
		cursor = next
	}
	return report, nil
}

// ReindexIfRecipeChanged reindexes only items whose stored EmbeddingRecord
// was produced under a stale chunk recipe, for the scheduled-background
// path of a long-lived process (§6's reindex-if-recipe-changed operation).
// Items with no EmbeddingRecord yet are treated as stale.
func (ix *Indexer) ReindexIfRecipeChanged(ctx context.Context, jobID string, filter catalog.Filter) (Report, error) {
	report := Report{JobID: jobID}
	cursor := catalog.Cursor{}
	for {
		items, next, hasMore, err := ix.store.IterItems(ctx, filter, cursor)
		if err != nil {
			return report, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "reindex_if_recipe_changed: iter_items")
		}
		for _, item := range items {
			rec, err := ix.store.GetEmbedding(ctx, item.ID)
			if err == nil && rec != nil && rec.ChunkRecipeID == ix.recipeID {
				continue
			}
			report.Total++
			if err := ix.Reindex(ctx, item.ID); err != nil {
				report.Failed++
				report.Results = append(report.Results, ItemResult{ItemID: item.ID, Err: err})
				continue
			}
			report.Succeeded++
			report.Results = append(report.Results, ItemResult{ItemID: item.ID})
		}
		if !hasMore {
			break
		}
		cursor = next
	}
	return report, nil
}

// OnCatalogChange reacts to a single catalog mutation event, per spec §4.1.
func (ix *Indexer) OnCatalogChange(ctx context.Context, m catalog.Mutation) error {
	switch m.Kind {
	case catalog.MutationItemUpsert, catalog.MutationCreditUpsert,
		catalog.MutationGenreLinkChange, catalog.MutationReviewChange:
		if m.ItemID != "" {
			credits, err := ix.store.GetCredits(ctx, m.ItemID)
			if err == nil {
				for _, c := range credits {
					ix.people.MarkDirty(c.PersonID)
				}
			}
		}
		return ix.Reindex(ctx, m.ItemID)
	case catalog.MutationItemDelete:
		return ix.Invalidate(ctx, m.ItemID)
	case catalog.MutationPersonAggregate:
		ix.people.MarkDirty(m.ItemID)
		return nil
	default:
		return nil
	}
}

// Run subscribes to the catalog store's mutation stream and applies each
// mutation until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	mutations, err := ix.store.Subscribe(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "subscribe to catalog mutations")
	}
	log := logging.FromContext(ctx)
	for m := range mutations {
		if err := ix.OnCatalogChange(ctx, m); err != nil {
			log.Error().Err(err).Str("item_id", m.ItemID).Msg("on_catalog_change failed")
		}
	}
	return nil
}
