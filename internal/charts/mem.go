package charts

import (
	"context"
	"sync"
)

// Mem is an in-memory Backend serving canned dataset references per actor.
type Mem struct {
	mu       sync.Mutex
	byActor  map[string][]DatasetRef
	queryErr error
	queries  int
}

// NewMem builds an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{byActor: map[string][]DatasetRef{}}
}

// SetDatasets registers the rows returned for one actor.
func (m *Mem) SetDatasets(actorName string, references []DatasetRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byActor[actorName] = references
}

// FailWith makes every subsequent query return the given error.
func (m *Mem) FailWith(queryErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = queryErr
}

// Queries reports how many RecentDatasets calls were served.
func (m *Mem) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// RecentDatasets returns the registered rows, honoring MaxResults.
func (m *Mem) RecentDatasets(_ context.Context, actorName string, _ Window, bounds Bounds) ([]DatasetRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	references := append([]DatasetRef(nil), m.byActor[actorName]...)
	if bounds.MaxResults > 0 && len(references) > bounds.MaxResults {
		references = references[:bounds.MaxResults]
	}
	return references, nil
}
