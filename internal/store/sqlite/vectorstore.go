package sqlite

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
)

// VectorStore is a brute-force cosine index over the embeddings table.
// Local-first deployments are expected to index a few thousand to tens of
// thousands of items; a dedicated ANN index is a straightforward swap
// behind catalog.VectorStore if that ceases to hold.
type VectorStore struct {
	store *Store
}

// NewVectorStore wraps store's embeddings table as a catalog.VectorStore.
func NewVectorStore(store *Store) *VectorStore { return &VectorStore{store: store} }

// Upsert is a no-op: vectors already live in the embeddings table via
// Store.UpsertEmbedding, which is the sole writer per spec §5.
func (v *VectorStore) Upsert(context.Context, string, []float32) error { return nil }

func (v *VectorStore) Query(_ context.Context, query []float32, k int, allow map[string]bool) ([]catalog.VectorHit, error) {
	var rows []embeddingRow
	if err := v.store.db.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "scan embeddings for vector query")
	}

	hits := make([]catalog.VectorHit, 0, len(rows))
	for _, r := range rows {
		if allow != nil && !allow[r.ItemID] {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(r.Vector), &vec); err != nil {
			continue
		}
		hits = append(hits, catalog.VectorHit{ItemID: r.ItemID, Cosine: cosine(query, vec)})
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
