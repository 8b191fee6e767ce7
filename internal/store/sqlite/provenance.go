package sqlite

import (
	"context"

	"gorm.io/gorm"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
)

// RecordProvenance upserts the (chunk-recipe, embedder-model) item count
// ledger of spec §6's optional persisted-state layout.
func (s *Store) RecordProvenance(_ context.Context, chunkRecipeID, embedderModelID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row provenanceRow
	err := s.db.First(&row, "chunk_recipe_id = ? AND embedder_model_id = ?", chunkRecipeID, embedderModelID).Error
	switch err {
	case nil:
		row.ItemCount += delta
	case gorm.ErrRecordNotFound:
		row = provenanceRow{ChunkRecipeID: chunkRecipeID, EmbedderModelID: embedderModelID, ItemCount: delta}
	default:
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "load provenance row")
	}
	if err := s.db.Save(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "save provenance row")
	}
	return nil
}

func (s *Store) ListProvenance(_ context.Context) ([]catalog.ProvenanceRecord, error) {
	var rows []provenanceRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "list provenance")
	}
	out := make([]catalog.ProvenanceRecord, len(rows))
	for i, r := range rows {
		out[i] = catalog.ProvenanceRecord{ChunkRecipeID: r.ChunkRecipeID, EmbedderModelID: r.EmbedderModelID, ItemCount: r.ItemCount}
	}
	return out, nil
}

// SaveJobRun persists a JobRun record, per SPEC_FULL's job-run accounting
// supplement.
func (s *Store) SaveJobRun(_ context.Context, j catalog.JobRun) error {
	row := jobRunRow{
		ID: j.ID, Kind: j.Kind, Status: j.Status, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt,
		Succeeded: j.Succeeded, Failed: j.Failed, Total: j.Total, Error: j.Error,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "save job run %s", j.ID)
	}
	return nil
}

func (s *Store) GetJobRun(_ context.Context, id string) (*catalog.JobRun, error) {
	var row jobRunRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "get job run %s", id)
	}
	return &catalog.JobRun{
		ID: row.ID, Kind: row.Kind, Status: row.Status, StartedAt: row.StartedAt, FinishedAt: row.FinishedAt,
		Succeeded: row.Succeeded, Failed: row.Failed, Total: row.Total, Error: row.Error,
	}, nil
}

// SaveCacheEntry persists one CagCacheEntry so it survives past the
// one-shot CLI process that produced it, making the cache usable across
// separate `generate`/`cache metrics`/`cache clear` invocations.
func (s *Store) SaveCacheEntry(_ context.Context, rec catalog.CacheRecord) error {
	row := cacheEntryRow{
		PersonaID:          rec.PersonaID,
		GeneratorModelID:   rec.GeneratorModelID,
		ChunkRecipeID:      rec.ChunkRecipeID,
		ContextFingerprint: rec.ContextFingerprint,
		PrefixState:        rec.Entry.PrefixState,
		SizeBytes:          rec.Entry.SizeBytes,
		LastUsed:           rec.Entry.LastUsed,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "save cache entry")
	}
	return nil
}

func (s *Store) LoadCacheEntries(_ context.Context) ([]catalog.CacheRecord, error) {
	var rows []cacheEntryRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "load cache entries")
	}
	out := make([]catalog.CacheRecord, len(rows))
	for i, r := range rows {
		out[i] = catalog.CacheRecord{
			PersonaID:          r.PersonaID,
			GeneratorModelID:   r.GeneratorModelID,
			ChunkRecipeID:      r.ChunkRecipeID,
			ContextFingerprint: r.ContextFingerprint,
			Entry: catalog.CagCacheEntry{
				PrefixState: r.PrefixState,
				SizeBytes:   r.SizeBytes,
				LastUsed:    r.LastUsed,
			},
		}
	}
	return out, nil
}

func (s *Store) ClearCacheEntries(_ context.Context) error {
	if err := s.db.Where("1 = 1").Delete(&cacheEntryRow{}).Error; err != nil {
		return apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "clear cache entries")
	}
	return nil
}
