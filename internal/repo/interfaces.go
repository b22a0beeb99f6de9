package repo

import (
	"context"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/auditlog"
)

// ErrNotFound is returned by row-level lookups.
var ErrNotFound = domain.ErrNotFound

// RunSearch is a registry query: experiments to scan, a tag filter expression
// in "tags.<name>='<value>'" syntax and an ordering such as
// domain.OrderByEndTimeDesc. MaxResults <= 0 means no limit.
type RunSearch struct {
	ExperimentIDs []string
	Filter        string
	OrderBy       []string
	MaxResults    int
}

// RunSearcher finds runs by tag filter.
type RunSearcher interface {
	SearchRuns(ctx context.Context, search RunSearch) ([]domain.Run, error)
}

// TagSetter writes a single tag on a run.
type TagSetter interface {
	SetTag(ctx context.Context, runID, key, value string) error
}

// RunRegistry is the tracking capability consumed by resolution and promotion.
type RunRegistry interface {
	RunSearcher
	TagSetter
}

// TagBatchWriter applies several tag writes atomically. Registries that can
// offer a transaction implement it in addition to RunRegistry.
type TagBatchWriter interface {
	SetTags(ctx context.Context, writes []domain.TagWrite) error
}

// RunReader fetches a single run.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (domain.Run, error)
}

// ExperimentReader fetches experiment metadata.
type ExperimentReader interface {
	GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event auditlog.Event) (int64, error)
}
