package idx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediacore/internal/catalog"
	"mediacore/internal/testutil"
)

func seedItem(store *testutil.Store, id string, year int) {
	store.Items[id] = catalog.Item{
		ID:             id,
		Kind:           catalog.KindFilm,
		Title:          id,
		ReleaseDate:    time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		ExternalRating: 7.5,
		ExternalVotes:  50,
	}
}

func TestReindexWritesProfileAndEmbedding(t *testing.T) {
	store := testutil.NewStore()
	seedItem(store, "i1", 2001)
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	err := ix.Reindex(context.Background(), "i1")
	require.NoError(t, err)

	profile, err := store.GetScoringProfile(context.Background(), "i1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, 2001, profile.ReleaseYear)

	rec, err := store.GetEmbedding(context.Background(), "i1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "v1", rec.ChunkRecipeID)
}

func TestReindexOfVanishedItemDeletesDerived(t *testing.T) {
	store := testutil.NewStore()
	store.Profiles["ghost"] = catalog.ScoringProfile{ItemID: "ghost"}
	store.Embeddings["ghost"] = catalog.EmbeddingRecord{ItemID: "ghost"}
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	err := ix.Reindex(context.Background(), "ghost")
	require.NoError(t, err)

	profile, err := store.GetScoringProfile(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestReindexBulkCoversEveryMatchingItem(t *testing.T) {
	store := testutil.NewStore()
	seedItem(store, "i1", 2001)
	seedItem(store, "i2", 2002)
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	report, err := ix.ReindexBulk(context.Background(), "job-1", catalog.Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 0, report.Failed)
}

func TestReindexRecordsProvenanceDelta(t *testing.T) {
	store := testutil.NewStore()
	seedItem(store, "i1", 2001)
	store.Embeddings["i1"] = catalog.EmbeddingRecord{ItemID: "i1", ChunkRecipeID: "v0", ModelID: "old-embedder"}
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	err := ix.Reindex(context.Background(), "i1")
	require.NoError(t, err)

	require.Equal(t, -1, store.Provenance["v0/old-embedder"])
	require.Equal(t, 1, store.Provenance["v1/fake-embedder-v1"])
}

func TestReindexOfVanishedItemOnlyDecrementsProvenance(t *testing.T) {
	store := testutil.NewStore()
	store.Profiles["ghost"] = catalog.ScoringProfile{ItemID: "ghost"}
	store.Embeddings["ghost"] = catalog.EmbeddingRecord{ItemID: "ghost", ChunkRecipeID: "v1", ModelID: "fake-embedder-v1"}
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	err := ix.Reindex(context.Background(), "ghost")
	require.NoError(t, err)

	require.Equal(t, -1, store.Provenance["v1/fake-embedder-v1"])
}

func TestReindexIfRecipeChangedSkipsUpToDateItems(t *testing.T) {
	store := testutil.NewStore()
	seedItem(store, "fresh", 2001)
	seedItem(store, "stale", 2002)
	store.Embeddings["fresh"] = catalog.EmbeddingRecord{ItemID: "fresh", ChunkRecipeID: "v1"}
	vectors := testutil.NewVectorStore()
	ix := New(store, testutil.NewEmbedder(4), vectors)

	report, err := ix.ReindexIfRecipeChanged(context.Background(), "job-2", catalog.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Equal(t, []ItemResult{{ItemID: "stale"}}, report.Results)
}
