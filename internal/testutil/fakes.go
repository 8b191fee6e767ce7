// Package testutil provides small in-memory fakes of the core's abstract
// collaborators (catalog.Store, catalog.Embedder, catalog.VectorStore,
// catalog.Generator) shared by idx/sim/cr/cag tests.
package testutil

import (
	"context"
	"math"
	"sort"
	"strings"

	"mediacore/internal/catalog"
)

// Store is an in-memory catalog.Store.
type Store struct {
	Items      map[string]catalog.Item
	Credits    map[string][]catalog.Credit // by item id
	GenreLinks map[string][]catalog.GenreLink
	ReviewTags map[string][]string
	People     map[string]catalog.Person

	Profiles   map[string]catalog.ScoringProfile
	Embeddings map[string]catalog.EmbeddingRecord

	// Provenance holds per-(chunk recipe, embedder model) item counts, keyed
	// "chunkRecipeID/embedderModelID", so tests can assert on RecordProvenance
	// deltas. catalog.ProvenanceRecorder is an optional capability detected
	// via type assertion, so this fake implementing it is purely for tests
	// that want to exercise it, not a requirement of catalog.Store.
	Provenance map[string]int

	mutations chan catalog.Mutation
}

// NewStore constructs an empty fake store.
func NewStore() *Store {
	return &Store{
		Items:      map[string]catalog.Item{},
		Credits:    map[string][]catalog.Credit{},
		GenreLinks: map[string][]catalog.GenreLink{},
		ReviewTags: map[string][]string{},
		People:     map[string]catalog.Person{},
		Profiles:   map[string]catalog.ScoringProfile{},
		Embeddings: map[string]catalog.EmbeddingRecord{},
		Provenance: map[string]int{},
		mutations:  make(chan catalog.Mutation, 64),
	}
}

func (s *Store) GetItem(_ context.Context, id string) (*catalog.Item, error) {
	it, ok := s.Items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (s *Store) IterItems(_ context.Context, filter catalog.Filter, cursor catalog.Cursor) ([]catalog.Item, catalog.Cursor, bool, error) {
	ids := make([]string, 0, len(s.Items))
	for id := range s.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var matched []catalog.Item
	for _, id := range ids {
		it := s.Items[id]
		if !matchesFilter(it, filter) {
			continue
		}
		matched = append(matched, it)
	}
	return matched, catalog.Cursor{}, false, nil
}

func matchesFilter(it catalog.Item, f catalog.Filter) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if it.Kind == k {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.YearMin > 0 && it.ReleaseDate.Year() < f.YearMin {
		return false
	}
	if f.YearMax > 0 && it.ReleaseDate.Year() > f.YearMax {
		return false
	}
	if f.Language != "" && it.Language != f.Language {
		return false
	}
	if f.ExcludeIDs != nil && f.ExcludeIDs[it.ID] {
		return false
	}
	return true
}

func (s *Store) GetCredits(_ context.Context, itemID string) ([]catalog.Credit, error) {
	return s.Credits[itemID], nil
}

func (s *Store) GetGenreLinks(_ context.Context, itemID string) ([]catalog.GenreLink, error) {
	return s.GenreLinks[itemID], nil
}

func (s *Store) GetReviewTags(_ context.Context, itemID string) ([]string, error) {
	return s.ReviewTags[itemID], nil
}

func (s *Store) GetPerson(_ context.Context, id string) (*catalog.Person, error) {
	p, ok := s.People[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) GetCreditsByPerson(_ context.Context, personID string) ([]catalog.Credit, error) {
	var out []catalog.Credit
	for _, credits := range s.Credits {
		for _, c := range credits {
			if c.PersonID == personID {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan catalog.Mutation, error) {
	go func() {
		<-ctx.Done()
	}()
	return s.mutations, nil
}

// Emit pushes a mutation onto the subscription channel, for tests driving
// on_catalog_change.
func (s *Store) Emit(m catalog.Mutation) { s.mutations <- m }

func (s *Store) UpsertScoringProfile(_ context.Context, p catalog.ScoringProfile) error {
	s.Profiles[p.ItemID] = p
	return nil
}

func (s *Store) UpsertEmbedding(_ context.Context, e catalog.EmbeddingRecord) error {
	s.Embeddings[e.ItemID] = e
	return nil
}

func (s *Store) GetScoringProfile(_ context.Context, itemID string) (*catalog.ScoringProfile, error) {
	p, ok := s.Profiles[itemID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) GetEmbedding(_ context.Context, itemID string) (*catalog.EmbeddingRecord, error) {
	e, ok := s.Embeddings[itemID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) DeleteDerived(_ context.Context, itemID string) error {
	delete(s.Profiles, itemID)
	delete(s.Embeddings, itemID)
	return nil
}

func (s *Store) RecordProvenance(_ context.Context, chunkRecipeID, embedderModelID string, delta int) error {
	s.Provenance[chunkRecipeID+"/"+embedderModelID] += delta
	return nil
}

func (s *Store) ListProvenance(_ context.Context) ([]catalog.ProvenanceRecord, error) {
	out := make([]catalog.ProvenanceRecord, 0, len(s.Provenance))
	for key, count := range s.Provenance {
		recipeID, modelID, _ := strings.Cut(key, "/")
		out = append(out, catalog.ProvenanceRecord{ChunkRecipeID: recipeID, EmbedderModelID: modelID, ItemCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkRecipeID < out[j].ChunkRecipeID })
	return out, nil
}

// Embedder is a deterministic fake: it hashes tokens of the text into a
// fixed-width vector so cosine similarity is meaningful across related
// text, without pulling in a real model.
type Embedder struct {
	Dim   int
	Model string
}

func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = 16
	}
	return &Embedder{Dim: dim, Model: "fake-embedder-v1"}
}

func (e *Embedder) ModelID() string      { return e.Model }
func (e *Embedder) Dimensionality() int  { return e.Dim }

func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vectorFor(t)
	}
	return out, nil
}

func (e *Embedder) vectorFor(text string) []float32 {
	v := make([]float32, e.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv32(tok)
		v[int(h)%e.Dim] += 1
	}
	return v
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// VectorStore is a brute-force in-memory cosine index.
type VectorStore struct {
	vectors map[string][]float32
}

func NewVectorStore() *VectorStore { return &VectorStore{vectors: map[string][]float32{}} }

func (v *VectorStore) Upsert(_ context.Context, id string, vector []float32) error {
	v.vectors[id] = vector
	return nil
}

func (v *VectorStore) Query(_ context.Context, query []float32, k int, allow map[string]bool) ([]catalog.VectorHit, error) {
	var hits []catalog.VectorHit
	for id, vec := range v.vectors {
		if allow != nil && !allow[id] {
			continue
		}
		hits = append(hits, catalog.VectorHit{ItemID: id, Cosine: cosine(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Cosine > hits[j].Cosine })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Generator is a scripted fake generator for CAG tests: it streams a fixed
// response token by token and honors context cancellation.
type Generator struct {
	Model    string
	Response string
}

func NewGenerator(response string) *Generator {
	return &Generator{Model: "fake-generator-v1", Response: response}
}

func (g *Generator) ModelID() string     { return g.Model }
func (g *Generator) ContextWindow() int  { return 8192 }

func (g *Generator) Stream(ctx context.Context, _ string, _ []byte) (<-chan catalog.GenChunk, <-chan error) {
	chunks := make(chan catalog.GenChunk)
	errc := make(chan error, 1)
	tokens := strings.Fields(g.Response)
	go func() {
		defer close(chunks)
		for i, tok := range tokens {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case chunks <- catalog.GenChunk{Text: tok + " ", Done: i == len(tokens)-1}:
			}
		}
	}()
	return chunks, errc
}
