package catalog

import "time"

// ScoringProfile is IDX's denormalized per-item record consumed by CR,
// per spec §3/§4.1.
type ScoringProfile struct {
	ItemID            string
	Kind              Kind
	ReleaseYear       int
	RuntimeSeconds    int
	MaturityRating    string
	Language          string
	ExternalRating    float64
	ExternalVotes     int
	PersonalRating    *float64
	Popularity        float64
	GenreSlugs        []string
	DirectorIDs       []string
	WriterIDs         []string
	CastIDs           []string // top-N billed, by billing order
	DirectorAggregate *float64
	WriterAggregate   *float64
	CastAggregate     *float64
	CustomScalars     map[string]Attr

	// Provenance, used to detect staleness per spec §7.
	ChunkRecipeID string
	ProducedAt    time.Time
}

// EmbeddingRecord is IDX's per-item vector + provenance, per spec §3/§4.1.
type EmbeddingRecord struct {
	ItemID        string
	Vector        []float32
	ModelID       string
	ChunkRecipeID string
	ProducedAt    time.Time
	Stale         bool // EmbeddingUnavailable left the previous vector in place
}

// CriteriaPreset is a named, reusable CR configuration, immutable-on-use
// per spec §3 (a running recommendation captures the ConfigSnapshot).
type CriteriaPreset struct {
	ID             string
	Name           string
	ConfigSnapshot []byte // serialized CriteriaConfig, captured at first use
}

// CagCacheEntry is a reusable generator-prefix cache entry, per spec §3/§4.4.
// Writing marks a slot reserved for an in-flight generation: a cancelled or
// failed generation must evict a Writing entry rather than leave it behind,
// per spec §4.4's cancel-path cache contract.
type CagCacheEntry struct {
	Key         string // fingerprint of (persona, model, chunk recipe, context)
	PrefixState []byte
	SizeBytes   int64
	LastUsed    time.Time
	Writing     bool
}

// JobRun tracks a bulk IDX/CAG operation, per SPEC_FULL's job-run
// accounting supplement.
type JobRun struct {
	ID         string
	Kind       string // "reindex_bulk" | "reindex_if_recipe_changed" | "rank" | "generate"
	Status     string // "running" | "succeeded" | "failed" | "cancelled"
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Total      int
	Error      string
}

// ProvenanceRecord tracks how many items are indexed under a given
// (chunk recipe, embedder model) pair, per spec §6's optional ledger.
type ProvenanceRecord struct {
	ChunkRecipeID   string
	EmbedderModelID string
	ItemCount       int
}

// CacheRecord is a CagCacheEntry plus the key components needed to
// reconstruct a cag/cache.Key on reload, for cross-process persistence of
// the generator prefix cache (spec §4.4; local-first processes are
// one-shot CLI invocations, so the in-memory LRU alone never survives
// between a `generate` call and a later `cache metrics`/`cache clear`).
type CacheRecord struct {
	PersonaID          string
	GeneratorModelID   string
	ChunkRecipeID      string
	ContextFingerprint string
	Entry              CagCacheEntry
}
