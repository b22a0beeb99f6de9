package domain

import (
	"errors"
	"strings"
	"time"
)

// Run is one recorded training execution as seen by the run registry.
type Run struct {
	ID           string
	ExperimentID string
	Status       string
	StartedAt    time.Time
	EndedAt      *time.Time
	ArtifactURI  string
	Tags         map[string]string
	Metrics      map[string]float64
	Params       map[string]string
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	return nil
}

// Tag returns the value of a tag and whether it is set.
func (r Run) Tag(name string) (string, bool) {
	if r.Tags == nil {
		return "", false
	}
	v, ok := r.Tags[name]
	return v, ok
}

// HasTag reports whether the run carries name=value.
func (r Run) HasTag(name, value string) bool {
	v, ok := r.Tag(name)
	return ok && v == value
}

// EndedAfter orders runs by end time, most recent first. Runs that have not
// ended sort after every ended run.
func EndedAfter(a, b Run) bool {
	switch {
	case a.EndedAt == nil && b.EndedAt == nil:
		return a.StartedAt.After(b.StartedAt)
	case a.EndedAt == nil:
		return false
	case b.EndedAt == nil:
		return true
	default:
		return a.EndedAt.After(*b.EndedAt)
	}
}

// Experiment groups runs under a tracking namespace.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
}
