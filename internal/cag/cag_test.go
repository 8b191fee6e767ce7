package cag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
	"mediacore/internal/sim"
	"mediacore/internal/testutil"
)

func apperrorsCancelled(err error) bool {
	return apperrors.Is(err, apperrors.KindCancelled)
}

func seedCagItem(store *testutil.Store, vecs *testutil.VectorStore, id, title string, genres []string, vector []float32) {
	store.Items[id] = catalog.Item{ID: id, Kind: catalog.KindFilm, Title: title, ReleaseDate: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), Overview: "A story about " + title + "."}
	store.Profiles[id] = catalog.ScoringProfile{ItemID: id, GenreSlugs: genres, ChunkRecipeID: "v1", ReleaseYear: 1999}
	store.GenreLinks[id] = []catalog.GenreLink{{ItemID: id, Genre: genres[0], Weight: 1}}
	store.Embeddings[id] = catalog.EmbeddingRecord{ItemID: id, Vector: vector, ModelID: "fake", ChunkRecipeID: "v1"}
	vecs.Upsert(context.Background(), id, vector)
}

func newTestPipeline(response string) (*Pipeline, *testutil.Store) {
	store := testutil.NewStore()
	vecs := testutil.NewVectorStore()
	seedCagItem(store, vecs, "F", "Reference F", []string{"fantasy"}, []float32{1, 0, 0})
	seedCagItem(store, vecs, "D", "Reference D", []string{"drama"}, []float32{0, 1, 0})

	retriever := sim.New(store, testutil.NewEmbedder(3), vecs, 10, "v1")
	gen := testutil.NewGenerator(response)
	p := New(store, retriever, gen, "v1", Config{})
	return p, store
}

func TestRunMashupResolvesReferencesAndRecommendations(t *testing.T) {
	response := `{"recommendations":[{"title":"Reference F","reasoning":"tonal match","match_score":0.9}],"extracted_criteria":{"genres":["fantasy","action","drama"]}}`
	p, _ := newTestPipeline(response)

	req := Request{Mode: ModeMashup, Text: "fantasy action like reference F plus serious drama like reference D", References: []string{"F", "D"}}
	resp, err := p.Run(context.Background(), req, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StageDone, resp.Stage)
	require.Len(t, resp.Recommendations, 1)
	require.True(t, resp.Recommendations[0].Resolved)
	require.Equal(t, "F", resp.Recommendations[0].ItemID)
	require.Contains(t, resp.ExtractedCriteria.Genres, "fantasy")
	require.Contains(t, resp.ExtractedCriteria.Genres, "drama")
}

func TestRunCancelMidStreamStopsBeforeDone(t *testing.T) {
	p, _ := newTestPipeline("one two three four five")
	ctx, cancel := context.WithCancel(context.Background())

	req := Request{Mode: ModeChat, Text: "hello"}
	chunkCount := 0
	var stages []Stage
	_, err := p.Run(ctx, req, func(s Stage) {
		stages = append(stages, s)
	}, func(string) {
		chunkCount++
		cancel()
	})

	require.Error(t, err)
	require.True(t, apperrorsCancelled(err))
	require.Equal(t, 1, chunkCount)
	require.Contains(t, stages, StageGenerating)
	require.NotContains(t, stages, StageDone)
}

func TestRunUnresolvedReferenceStaysFreeText(t *testing.T) {
	response := `{"recommendations":[{"title":"Nonexistent Movie","reasoning":"invented","match_score":0.1}]}`
	p, _ := newTestPipeline(response)

	req := Request{Mode: ModeRecommend, Text: "something moody"}
	resp, err := p.Run(context.Background(), req, nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 1)
	require.False(t, resp.Recommendations[0].Resolved)
	require.Empty(t, resp.Recommendations[0].ItemID)
}

func TestPostParseRepairsMalformedOutputOnce(t *testing.T) {
	p, _ := newTestPipeline(`{"recommendations":[{"title":"Reference F","reasoning":"ok","match_score":0.5}]}`)
	recs, err := p.postParse(context.Background(), Request{Mode: ModeMashup}, "not json at all")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}
