// Package repotest provides an in-memory run registry for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
)

// Registry is an in-memory repo.RunRegistry. It records every call and can
// be told to fail a specific tag write.
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*domain.Run
	order    []string
	Searches []repo.RunSearch
	Writes   []domain.TagWrite
	// FailOn makes SetTag return Err for a matching write.
	FailOn *domain.TagWrite
	Err    error
	// Experiments backs GetExperiment, keyed by experiment id.
	Experiments map[string]domain.Experiment
}

func NewRegistry(runs ...domain.Run) *Registry {
	r := &Registry{runs: map[string]*domain.Run{}}
	for _, run := range runs {
		r.Add(run)
	}
	return r
}

// Add inserts or replaces a run.
func (r *Registry) Add(run domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := cloneRun(run)
	if _, ok := r.runs[run.ID]; !ok {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = &cp
}

// Run returns a copy of the stored run.
func (r *Registry) Run(id string) (domain.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return cloneRun(*run), true
}

// Tag returns one tag value of a stored run.
func (r *Registry) Tag(id, key string) string {
	run, _ := r.Run(id)
	return run.Tags[key]
}

func (r *Registry) SearchRuns(ctx context.Context, search repo.RunSearch) ([]domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Searches = append(r.Searches, search)
	filters, err := domain.ParseFilter(search.Filter)
	if err != nil {
		return nil, err
	}
	experiments := map[string]bool{}
	for _, id := range search.ExperimentIDs {
		experiments[id] = true
	}
	out := make([]domain.Run, 0)
	for _, id := range r.order {
		run := r.runs[id]
		if !experiments[run.ExperimentID] || !domain.MatchesAll(*run, filters) {
			continue
		}
		out = append(out, cloneRun(*run))
	}
	sort.SliceStable(out, func(i, j int) bool { return domain.EndedAfter(out[i], out[j]) })
	if search.MaxResults > 0 && len(out) > search.MaxResults {
		out = out[:search.MaxResults]
	}
	return out, nil
}

func (r *Registry) SetTag(ctx context.Context, runID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := domain.TagWrite{RunID: runID, Key: key, Value: value}
	if r.FailOn != nil && *r.FailOn == w {
		return r.Err
	}
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}
	if run.Tags == nil {
		run.Tags = map[string]string{}
	}
	run.Tags[key] = value
	r.Writes = append(r.Writes, w)
	return nil
}

func (r *Registry) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	run, ok := r.Run(runID)
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (r *Registry) GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.Experiments[experimentID]
	if !ok {
		return domain.Experiment{}, fmt.Errorf("experiment %s: %w", experimentID, repo.ErrNotFound)
	}
	return exp, nil
}

// BatchRegistry adds an all-or-nothing SetTags to Registry.
type BatchRegistry struct {
	*Registry
	Batches [][]domain.TagWrite
}

func (b *BatchRegistry) SetTags(ctx context.Context, writes []domain.TagWrite) error {
	b.mu.Lock()
	for _, w := range writes {
		if _, ok := b.runs[w.RunID]; !ok {
			b.mu.Unlock()
			return fmt.Errorf("run %s: %w", w.RunID, repo.ErrNotFound)
		}
		if b.FailOn != nil && *b.FailOn == w {
			b.mu.Unlock()
			return b.Err
		}
	}
	b.Batches = append(b.Batches, writes)
	b.mu.Unlock()
	for _, w := range writes {
		if err := b.SetTag(ctx, w.RunID, w.Key, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// NewRun builds a finished run of experiment with the given end time and tags.
func NewRun(id, experimentID string, ended time.Time, tags map[string]string) domain.Run {
	started := ended.Add(-time.Minute)
	return domain.Run{
		ID:           id,
		ExperimentID: experimentID,
		Status:       "FINISHED",
		StartedAt:    started,
		EndedAt:      &ended,
		Tags:         tags,
		Metrics:      map[string]float64{},
		Params:       map[string]string{},
	}
}

func cloneRun(run domain.Run) domain.Run {
	cp := run
	cp.Tags = make(map[string]string, len(run.Tags))
	for k, v := range run.Tags {
		cp.Tags[k] = v
	}
	cp.Metrics = make(map[string]float64, len(run.Metrics))
	for k, v := range run.Metrics {
		cp.Metrics[k] = v
	}
	cp.Params = make(map[string]string, len(run.Params))
	for k, v := range run.Params {
		cp.Params[k] = v
	}
	if run.EndedAt != nil {
		ended := *run.EndedAt
		cp.EndedAt = &ended
	}
	return cp
}
