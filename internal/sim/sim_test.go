package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediacore/internal/catalog"
	"mediacore/internal/testutil"
)

func seedItem(store *testutil.Store, vecs *testutil.VectorStore, id string, year int, rating float64, genres []string, vector []float32) {
	store.Items[id] = catalog.Item{
		ID:             id,
		Kind:           catalog.KindFilm,
		Title:          id,
		ReleaseDate:    time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		ExternalRating: rating,
		ExternalVotes:  100,
	}
	store.Profiles[id] = catalog.ScoringProfile{
		ItemID:         id,
		ReleaseYear:    year,
		ExternalRating: rating,
		GenreSlugs:     genres,
		ChunkRecipeID:  "v1",
	}
	store.Embeddings[id] = catalog.EmbeddingRecord{ItemID: id, Vector: vector, ModelID: "fake", ChunkRecipeID: "v1"}
	vecs.Upsert(context.Background(), id, vector)
}

func TestNearestOrdersByHybridScoreDescending(t *testing.T) {
	store := testutil.NewStore()
	vecs := testutil.NewVectorStore()

	seedItem(store, vecs, "probe", 1999, 8.0, []string{"sci-fi"}, []float32{1, 0, 0})
	seedItem(store, vecs, "close", 1998, 8.5, []string{"sci-fi"}, []float32{0.99, 0.01, 0})
	seedItem(store, vecs, "far", 1950, 2.0, []string{"romance"}, []float32{0, 1, 0})

	r := New(store, testutil.NewEmbedder(3), vecs, 10, "v1")
	res, err := r.Nearest(context.Background(), Probe{ItemID: "probe"}, 2, catalog.Filter{}, Weights{})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	require.Equal(t, "close", res.Hits[0].ItemID)

	for i := 1; i < len(res.Hits); i++ {
		require.GreaterOrEqual(t, res.Hits[i-1].Score, res.Hits[i].Score)
	}
}

func TestNearestFlagsUndersized(t *testing.T) {
	store := testutil.NewStore()
	vecs := testutil.NewVectorStore()
	seedItem(store, vecs, "probe", 2000, 7.0, nil, []float32{1, 0})
	seedItem(store, vecs, "only-other", 2000, 7.0, nil, []float32{1, 0})

	r := New(store, testutil.NewEmbedder(2), vecs, 10, "v1")
	res, err := r.Nearest(context.Background(), Probe{ItemID: "probe"}, 5, catalog.Filter{}, Weights{})
	require.NoError(t, err)
	require.True(t, res.Undersized)
}

func TestNearestUnindexedProbeReturnsNotIndexed(t *testing.T) {
	store := testutil.NewStore()
	vecs := testutil.NewVectorStore()
	r := New(store, testutil.NewEmbedder(2), vecs, 10, "v1")
	_, err := r.Nearest(context.Background(), Probe{ItemID: "missing"}, 3, catalog.Filter{}, Weights{})
	require.Error(t, err)
}

func TestEraAffinityDecaysWithDistance(t *testing.T) {
	close := eraAffinity(2000, 2001, 10)
	far := eraAffinity(2000, 2050, 10)
	require.Greater(t, close, far)
}

func TestRatingAffinityClampsAtZero(t *testing.T) {
	require.Equal(t, 0.0, ratingAffinity(10, 0))
	require.InDelta(t, 1.0, ratingAffinity(5, 5), 1e-9)
}

func TestJaccardOverlap(t *testing.T) {
	require.InDelta(t, 1.0, jaccard([]string{"a", "b"}, []string{"a", "b"}), 1e-9)
	require.InDelta(t, 0.0, jaccard([]string{"a"}, []string{"b"}), 1e-9)
	require.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}
