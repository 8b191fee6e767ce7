package catalog

import "context"

// MutationKind enumerates the catalog mutations IDX subscribes to, per
// spec §4.1 on_catalog_change.
type MutationKind string

const (
	MutationItemUpsert      MutationKind = "item_upsert"
	MutationItemDelete      MutationKind = "item_delete"
	MutationCreditUpsert    MutationKind = "credit_upsert"
	MutationGenreLinkChange MutationKind = "genre_link_change"
	MutationReviewChange    MutationKind = "review_change"
	MutationPersonAggregate MutationKind = "person_aggregate_recompute"
)

// Mutation is one event on the subscription channel.
type Mutation struct {
	Kind   MutationKind
	ItemID string
}

// Store is the abstract CatalogStore capability of spec §6. The core
// depends only on this; how it is implemented (Postgres, SQLite, an
// in-memory fixture) is irrelevant to the spec.
type Store interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	IterItems(ctx context.Context, filter Filter, cursor Cursor) ([]Item, Cursor, bool, error)
	GetCredits(ctx context.Context, itemID string) ([]Credit, error)
	GetGenreLinks(ctx context.Context, itemID string) ([]GenreLink, error)
	GetReviewTags(ctx context.Context, itemID string) ([]string, error)
	GetPerson(ctx context.Context, id string) (*Person, error)
	GetCreditsByPerson(ctx context.Context, personID string) ([]Credit, error)

	// Subscribe delivers catalog mutations to IDX. The returned channel is
	// closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Mutation, error)

	// UpsertScoringProfile and UpsertEmbedding are IDX's sole writers of
	// derived state; SIM/CR are read-only per spec §5.
	UpsertScoringProfile(ctx context.Context, p ScoringProfile) error
	UpsertEmbedding(ctx context.Context, e EmbeddingRecord) error
	GetScoringProfile(ctx context.Context, itemID string) (*ScoringProfile, error)
	GetEmbedding(ctx context.Context, itemID string) (*EmbeddingRecord, error)
	DeleteDerived(ctx context.Context, itemID string) error
}

// Embedder is the abstract embedding backend of spec §6.
type Embedder interface {
	ModelID() string
	Dimensionality() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorHit is one result from a VectorStore query.
type VectorHit struct {
	ItemID string
	Cosine float64
}

// VectorStore is the abstract vector index of spec §6.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Query(ctx context.Context, vector []float32, k int, allow map[string]bool) ([]VectorHit, error)
}

// GenChunk is one piece of a streaming generation response.
type GenChunk struct {
	Text string
	Done bool
}

// ProvenanceRecorder tracks how many items are indexed under each
// (chunk-recipe, embedder-model) pair, per spec §6's optional provenance
// ledger. A Store that doesn't persist this simply doesn't implement it;
// IDX treats it as optional.
type ProvenanceRecorder interface {
	RecordProvenance(ctx context.Context, chunkRecipeID, embedderModelID string, delta int) error
	ListProvenance(ctx context.Context) ([]ProvenanceRecord, error)
}

// CachePersister durably stores CAG's generator prefix cache so entries
// survive the one-shot CLI process that populated them. A Store that
// embeds no such persistence (e.g. a pure in-memory fixture) simply
// doesn't implement this; CAG treats it as optional.
type CachePersister interface {
	SaveCacheEntry(ctx context.Context, rec CacheRecord) error
	LoadCacheEntries(ctx context.Context) ([]CacheRecord, error)
	ClearCacheEntries(ctx context.Context) error
}

// Generator is the abstract local generative model server of spec §6.
type Generator interface {
	ModelID() string
	ContextWindow() int
	// Stream yields chunks on the returned channel until the prompt is
	// fully generated, ctx is cancelled, or an error is sent on errc.
	// cacheHint, when non-empty, lets the generator resume from a cached
	// prefix state (see internal/cag/cache).
	Stream(ctx context.Context, prompt string, cacheHint []byte) (<-chan GenChunk, <-chan error)
}
