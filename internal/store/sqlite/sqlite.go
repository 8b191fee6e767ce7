// Package sqlite is the reference gorm-backed catalog.Store, adapted from
// the teacher's database.Initialize postgres wiring to a local-first
// single-file sqlite database.
package sqlite

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
)

// itemRow, creditRow, genreLinkRow and personRow are gorm models mirroring
// catalog's storage-agnostic entities; the catalog package itself stays
// free of gorm tags so IDX/SIM/CR/CAG never import an ORM.
type itemRow struct {
	ID             string `gorm:"primaryKey"`
	Kind           string
	Title          string
	OriginalTitle  string
	ReleaseDate    time.Time
	RuntimeSeconds int
	MaturityRating string
	Popularity     float64
	ExternalRating float64
	ExternalVotes  int
	PersonalRating *float64
	Language       string
	Overview       string
	Tagline        string
	PosterRef      string
	BackdropRef    string
	Status         string
	CustomAttrs    string // JSON-encoded map[string]catalog.Attr
}

type creditRow struct {
	ItemID    string `gorm:"primaryKey;index"`
	PersonID  string `gorm:"primaryKey;index"`
	Role      string `gorm:"primaryKey"`
	Billing   int
	Character string
}

type genreLinkRow struct {
	ItemID string `gorm:"primaryKey;index"`
	Genre  string `gorm:"primaryKey"`
	Weight float64
}

type personRow struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Department string
}

type reviewRow struct {
	ItemID      string `gorm:"primaryKey;index"`
	Rating      float64
	Text        string
	WatchedDate time.Time
	Tags        string // JSON-encoded []string
}

type scoringProfileRow struct {
	ItemID            string `gorm:"primaryKey"`
	Kind              string
	ReleaseYear       int
	RuntimeSeconds    int
	MaturityRating    string
	Language          string
	ExternalRating    float64
	ExternalVotes     int
	PersonalRating    *float64
	Popularity        float64
	GenreSlugs        string // JSON
	DirectorIDs       string // JSON
	WriterIDs         string // JSON
	CastIDs           string // JSON
	DirectorAggregate *float64
	WriterAggregate   *float64
	CastAggregate     *float64
	CustomScalars     string // JSON
	ChunkRecipeID     string
	ProducedAt        time.Time
}

type embeddingRow struct {
	ItemID        string `gorm:"primaryKey"`
	Vector        string // JSON-encoded []float32
	ModelID       string
	ChunkRecipeID string
	ProducedAt    time.Time
	Stale         bool
}

type cacheEntryRow struct {
	PersonaID          string `gorm:"primaryKey"`
	GeneratorModelID   string `gorm:"primaryKey"`
	ChunkRecipeID      string `gorm:"primaryKey"`
	ContextFingerprint string `gorm:"primaryKey"`
	PrefixState        []byte
	SizeBytes          int64
	LastUsed           time.Time
}

type provenanceRow struct {
	ChunkRecipeID   string `gorm:"primaryKey"`
	EmbedderModelID string `gorm:"primaryKey"`
	ItemCount       int
}

type jobRunRow struct {
	ID         string `gorm:"primaryKey"`
	Kind       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Total      int
	Error      string
}

// Store is a gorm+sqlite catalog.Store. mu serializes the writer-side
// ScoringProfile/EmbeddingRecord upserts against each other; readers take
// no lock.
type Store struct {
	db *gorm.DB
	mu sync.Mutex

	subscribers []chan catalog.Mutation
	subMu       sync.Mutex
}

// Open connects to the sqlite database at path and runs AutoMigrate,
// following the teacher's database.Initialize(...).AutoMigrate pattern.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "open sqlite database at %s", path)
	}
	if err := db.AutoMigrate(
		&itemRow{}, &creditRow{}, &genreLinkRow{}, &personRow{}, &reviewRow{},
		&scoringProfileRow{}, &embeddingRow{}, &cacheEntryRow{}, &provenanceRow{}, &jobRunRow{},
	); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "migrate sqlite schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*catalog.Item, error) {
	var row itemRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_item %s", id)
	}
	item := rowToItem(row)
	return &item, nil
}

func (s *Store) IterItems(_ context.Context, filter catalog.Filter, cursor catalog.Cursor) ([]catalog.Item, catalog.Cursor, bool, error) {
	const pageSize = 200
	q := s.db.Model(&itemRow{})
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}
	if filter.Language != "" {
		q = q.Where("language = ?", filter.Language)
	}

	var rows []itemRow
	if err := q.Order("id").Offset(cursor.Offset).Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return nil, catalog.Cursor{}, false, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "iter_items")
	}

	more := len(rows) > pageSize
	if more {
		rows = rows[:pageSize]
	}

	items := make([]catalog.Item, 0, len(rows))
	for _, r := range rows {
		it := rowToItem(r)
		if filter.YearMin > 0 && it.ReleaseDate.Year() < filter.YearMin {
			continue
		}
		if filter.YearMax > 0 && it.ReleaseDate.Year() > filter.YearMax {
			continue
		}
		if filter.ExcludeIDs != nil && filter.ExcludeIDs[it.ID] {
			continue
		}
		items = append(items, it)
	}
	return items, catalog.Cursor{Offset: cursor.Offset + len(rows)}, more, nil
}

func rowToItem(r itemRow) catalog.Item {
	item := catalog.Item{
		ID: r.ID, Kind: catalog.Kind(r.Kind), Title: r.Title, OriginalTitle: r.OriginalTitle,
		ReleaseDate: r.ReleaseDate, RuntimeSeconds: r.RuntimeSeconds, MaturityRating: r.MaturityRating,
		Popularity: r.Popularity, ExternalRating: r.ExternalRating, ExternalVotes: r.ExternalVotes,
		PersonalRating: r.PersonalRating, Language: r.Language, Overview: r.Overview, Tagline: r.Tagline,
		PosterRef: r.PosterRef, BackdropRef: r.BackdropRef, Status: r.Status,
	}
	if r.CustomAttrs != "" {
		_ = json.Unmarshal([]byte(r.CustomAttrs), &item.CustomAttrs)
	}
	return item
}

func (s *Store) GetCredits(_ context.Context, itemID string) ([]catalog.Credit, error) {
	var rows []creditRow
	if err := s.db.Where("item_id = ?", itemID).Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_credits %s", itemID)
	}
	out := make([]catalog.Credit, len(rows))
	for i, r := range rows {
		out[i] = catalog.Credit{ItemID: r.ItemID, PersonID: r.PersonID, Role: catalog.Role(r.Role), Billing: r.Billing, Character: r.Character}
	}
	return out, nil
}

func (s *Store) GetCreditsByPerson(_ context.Context, personID string) ([]catalog.Credit, error) {
	var rows []creditRow
	if err := s.db.Where("person_id = ?", personID).Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_credits_by_person %s", personID)
	}
	out := make([]catalog.Credit, len(rows))
	for i, r := range rows {
		out[i] = catalog.Credit{ItemID: r.ItemID, PersonID: r.PersonID, Role: catalog.Role(r.Role), Billing: r.Billing, Character: r.Character}
	}
	return out, nil
}

func (s *Store) GetGenreLinks(_ context.Context, itemID string) ([]catalog.GenreLink, error) {
	var rows []genreLinkRow
	if err := s.db.Where("item_id = ?", itemID).Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_genre_links %s", itemID)
	}
	out := make([]catalog.GenreLink, len(rows))
	for i, r := range rows {
		out[i] = catalog.GenreLink{ItemID: r.ItemID, Genre: r.Genre, Weight: r.Weight}
	}
	return out, nil
}

func (s *Store) GetReviewTags(_ context.Context, itemID string) ([]string, error) {
	var row reviewRow
	if err := s.db.First(&row, "item_id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_review_tags %s", itemID)
	}
	var tags []string
	_ = json.Unmarshal([]byte(row.Tags), &tags)
	return tags, nil
}

func (s *Store) GetPerson(_ context.Context, id string) (*catalog.Person, error) {
	var row personRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_person %s", id)
	}
	return &catalog.Person{ID: row.ID, Name: row.Name, Department: row.Department}, nil
}

func (s *Store) Subscribe(ctx context.Context) (<-chan catalog.Mutation, error) {
	ch := make(chan catalog.Mutation, 32)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, c := range s.subscribers {
			if c == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *Store) publish(m catalog.Mutation) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- m:
		default:
		}
	}
}

// UpsertScoringProfile and UpsertEmbedding are each serialized under mu
// against other writers. They are separate writes and readers take no
// lock, so SIM/CR can observe an item's profile updated before its
// embedding.
func (s *Store) UpsertScoringProfile(_ context.Context, p catalog.ScoringProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := scoringProfileRow{
		ItemID: p.ItemID, Kind: string(p.Kind), ReleaseYear: p.ReleaseYear, RuntimeSeconds: p.RuntimeSeconds,
		MaturityRating: p.MaturityRating, Language: p.Language, ExternalRating: p.ExternalRating,
		ExternalVotes: p.ExternalVotes, PersonalRating: p.PersonalRating, Popularity: p.Popularity,
		GenreSlugs: mustJSON(p.GenreSlugs), DirectorIDs: mustJSON(p.DirectorIDs), WriterIDs: mustJSON(p.WriterIDs),
		CastIDs: mustJSON(p.CastIDs), DirectorAggregate: p.DirectorAggregate, WriterAggregate: p.WriterAggregate,
		CastAggregate: p.CastAggregate, CustomScalars: mustJSON(p.CustomScalars),
		ChunkRecipeID: p.ChunkRecipeID, ProducedAt: p.ProducedAt,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "upsert_scoring_profile %s", p.ItemID)
	}
	s.publish(catalog.Mutation{Kind: catalog.MutationPersonAggregate, ItemID: p.ItemID})
	return nil
}

func (s *Store) UpsertEmbedding(_ context.Context, e catalog.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := embeddingRow{
		ItemID: e.ItemID, Vector: mustJSON(e.Vector), ModelID: e.ModelID,
		ChunkRecipeID: e.ChunkRecipeID, ProducedAt: e.ProducedAt, Stale: e.Stale,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "upsert_embedding %s", e.ItemID)
	}
	return nil
}

func (s *Store) GetScoringProfile(_ context.Context, itemID string) (*catalog.ScoringProfile, error) {
	var row scoringProfileRow
	if err := s.db.First(&row, "item_id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_scoring_profile %s", itemID)
	}
	p := catalog.ScoringProfile{
		ItemID: row.ItemID, Kind: catalog.Kind(row.Kind), ReleaseYear: row.ReleaseYear, RuntimeSeconds: row.RuntimeSeconds,
		MaturityRating: row.MaturityRating, Language: row.Language, ExternalRating: row.ExternalRating,
		ExternalVotes: row.ExternalVotes, PersonalRating: row.PersonalRating, Popularity: row.Popularity,
		DirectorAggregate: row.DirectorAggregate, WriterAggregate: row.WriterAggregate, CastAggregate: row.CastAggregate,
		ChunkRecipeID: row.ChunkRecipeID, ProducedAt: row.ProducedAt,
	}
	_ = json.Unmarshal([]byte(row.GenreSlugs), &p.GenreSlugs)
	_ = json.Unmarshal([]byte(row.DirectorIDs), &p.DirectorIDs)
	_ = json.Unmarshal([]byte(row.WriterIDs), &p.WriterIDs)
	_ = json.Unmarshal([]byte(row.CastIDs), &p.CastIDs)
	_ = json.Unmarshal([]byte(row.CustomScalars), &p.CustomScalars)
	return &p, nil
}

func (s *Store) GetEmbedding(_ context.Context, itemID string) (*catalog.EmbeddingRecord, error) {
	var row embeddingRow
	if err := s.db.First(&row, "item_id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get_embedding %s", itemID)
	}
	e := catalog.EmbeddingRecord{ItemID: row.ItemID, ModelID: row.ModelID, ChunkRecipeID: row.ChunkRecipeID, ProducedAt: row.ProducedAt, Stale: row.Stale}
	_ = json.Unmarshal([]byte(row.Vector), &e.Vector)
	return &e, nil
}

func (s *Store) DeleteDerived(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(&scoringProfileRow{}, "item_id = ?", itemID).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "delete scoring profile %s", itemID)
	}
	if err := s.db.Delete(&embeddingRow{}, "item_id = ?", itemID).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "delete embedding %s", itemID)
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
