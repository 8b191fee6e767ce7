package idx

import (
	"context"
	"sync"

	"mediacore/internal/catalog"
)

// PersonAggregateIndex maintains each person's vote-count-weighted mean
// external rating, recomputed lazily from an explicit dirty set, per the
// "Aggregates" redesign note of spec §9: a derived index with a single
// writer lock, not a query run on every read.
type PersonAggregateIndex struct {
	store catalog.Store

	mu     sync.RWMutex
	values map[string]float64 // personID -> aggregate
	dirty  map[string]bool
}

// NewPersonAggregateIndex constructs an empty index; all persons start dirty
// on first lookup.
func NewPersonAggregateIndex(store catalog.Store) *PersonAggregateIndex {
	return &PersonAggregateIndex{
		store:  store,
		values: map[string]float64{},
		dirty:  map[string]bool{},
	}
}

// MarkDirty flags persons whose aggregate must be recomputed before the
// next Get, per spec §4.1: "recomputed lazily ... before any CR call that
// needs them".
func (p *PersonAggregateIndex) MarkDirty(personIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range personIDs {
		p.dirty[id] = true
	}
}

// Get returns the aggregate rating for personID, recomputing first if dirty
// or unseen. A person with zero total vote count is unrated: spec §4.1's
// neutral element, signalled by ok=false.
func (p *PersonAggregateIndex) Get(ctx context.Context, personID string) (value float64, ok bool, err error) {
	p.mu.RLock()
	isDirty := p.dirty[personID]
	v, known := p.values[personID]
	p.mu.RUnlock()

	if known && !isDirty {
		return v, true, nil
	}
	return p.recompute(ctx, personID)
}

func (p *PersonAggregateIndex) recompute(ctx context.Context, personID string) (float64, bool, error) {
	credits, err := p.store.GetCreditsByPerson(ctx, personID)
	if err != nil {
		return 0, false, err
	}

	var weightedSum, totalVotes float64
	for _, c := range credits {
		item, err := p.store.GetItem(ctx, c.ItemID)
		if err != nil || item == nil {
			continue
		}
		if item.ExternalVotes <= 0 {
			continue
		}
		weightedSum += item.ExternalRating * float64(item.ExternalVotes)
		totalVotes += float64(item.ExternalVotes)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dirty, personID)

	if totalVotes == 0 {
		delete(p.values, personID)
		return 0, false, nil
	}
	agg := weightedSum / totalVotes
	p.values[personID] = agg
	return agg, true, nil
}
