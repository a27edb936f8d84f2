package apify

import (
	"context"
	"fmt"
	"sync"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// RunCall records one RunActor invocation against a Mem platform.
type RunCall struct {
	ActorID string
	Input   any
}

// Mem is an in-memory Platform. Runs either flow through the optional
// RunHandler or succeed with a fresh empty dataset.
type Mem struct {
	mu          sync.Mutex
	actors      map[string]ActorDetail
	datasets    map[string][]map[string]any
	runs        map[string]RunResult
	runCalls    []RunCall
	runSequence int

	// RunHandler, when set, decides the outcome of every RunActor call.
	// The returned result is recorded so GetRun can replay it.
	RunHandler func(actorID string, input any) (RunResult, error)
}

// NewMem builds an empty in-memory platform.
func NewMem() *Mem {
	return &Mem{
		actors:   map[string]ActorDetail{},
		datasets: map[string][]map[string]any{},
		runs:     map[string]RunResult{},
	}
}

// AddActor registers an actor detail document.
func (m *Mem) AddActor(detail ActorDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[detail.ID] = detail
	if detail.Name != "" {
		m.actors[detail.Name] = detail
	}
}

// AddDataset stores items under a dataset ID.
func (m *Mem) AddDataset(datasetID string, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[datasetID] = items
}

// AddRun stores a run record for GetRun lookups.
func (m *Mem) AddRun(result RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[result.ID] = result
}

// RunCalls returns a copy of every RunActor invocation so far.
func (m *Mem) RunCalls() []RunCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunCall(nil), m.runCalls...)
}

// RunActor executes the configured RunHandler or succeeds with an empty
// dataset.
func (m *Mem) RunActor(_ context.Context, actorID string, input any, _ RunOptions) (RunResult, error) {
	m.mu.Lock()
	m.runCalls = append(m.runCalls, RunCall{ActorID: actorID, Input: input})
	m.runSequence++
	sequence := m.runSequence
	handler := m.RunHandler
	m.mu.Unlock()

	if handler != nil {
		result, handlerErr := handler(actorID, input)
		if handlerErr != nil {
			return RunResult{}, handlerErr
		}
		if result.ID == "" {
			result.ID = fmt.Sprintf("run-%d", sequence)
		}
		m.AddRun(result)
		return result, nil
	}

	result := RunResult{
		ID:               fmt.Sprintf("run-%d", sequence),
		Status:           StatusSucceeded,
		DefaultDatasetID: fmt.Sprintf("dataset-%d", sequence),
	}
	m.mu.Lock()
	m.runs[result.ID] = result
	if _, exists := m.datasets[result.DefaultDatasetID]; !exists {
		m.datasets[result.DefaultDatasetID] = nil
	}
	m.mu.Unlock()
	return result, nil
}

// GetRun replays a previously recorded run.
func (m *Mem) GetRun(_ context.Context, runID string) (RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, exists := m.runs[runID]
	if !exists {
		return RunResult{}, errs.NotFoundf("run %s not found", runID)
	}
	return result, nil
}

// GetActor returns a registered actor detail.
func (m *Mem) GetActor(_ context.Context, actorID string) (ActorDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	detail, exists := m.actors[actorID]
	if !exists {
		return ActorDetail{}, errs.NotFoundf("actor %s not found", actorID)
	}
	return detail, nil
}

// DatasetItems returns up to limit stored items.
func (m *Mem) DatasetItems(_ context.Context, datasetID string, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, exists := m.datasets[datasetID]
	if !exists {
		return nil, errs.NotFoundf("dataset %s not found", datasetID)
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return append([]map[string]any(nil), items...), nil
}
