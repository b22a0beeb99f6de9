package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
)

// multiplicityProbe bounds how many matches are fetched to detect competing
// runs for the same tag.
const multiplicityProbe = 10

type Resolver struct {
	registry     repo.RunSearcher
	logger       *slog.Logger
	liveTag      string
	candidateTag string
}

type Option func(*Resolver)

// WithTags overrides the live and candidate tag names.
func WithTags(liveTag, candidateTag string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(liveTag) != "" {
			r.liveTag = strings.TrimSpace(liveTag)
		}
		if strings.TrimSpace(candidateTag) != "" {
			r.candidateTag = strings.TrimSpace(candidateTag)
		}
	}
}

func NewResolver(registry repo.RunSearcher, logger *slog.Logger, opts ...Option) (*Resolver, error) {
	if registry == nil {
		return nil, errors.New("run registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		registry:     registry,
		logger:       logger,
		liveTag:      domain.DefaultLiveTag,
		candidateTag: domain.DefaultCandidateTag,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FindRun returns the most recent run of the experiment carrying
// tagName=tagValue.
func (r *Resolver) FindRun(ctx context.Context, experimentID, tagName, tagValue string) (string, error) {
	run, err := r.FindRunRecord(ctx, experimentID, tagName, tagValue)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// FindRunRecord is FindRun returning the whole run, metrics included.
func (r *Resolver) FindRunRecord(ctx context.Context, experimentID, tagName, tagValue string) (domain.Run, error) {
	if r == nil || r.registry == nil {
		return domain.Run{}, errors.New("resolver not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return domain.Run{}, errors.New("experiment id is required")
	}
	tagName = strings.TrimSpace(tagName)
	if tagName == "" {
		return domain.Run{}, errors.New("tag name is required")
	}

	filter := domain.FormatFilter(domain.TagFilter{Name: tagName, Value: tagValue})
	matches, err := r.registry.SearchRuns(ctx, repo.RunSearch{
		ExperimentIDs: []string{experimentID},
		Filter:        filter,
		OrderBy:       []string{domain.OrderByEndTimeDesc},
		MaxResults:    multiplicityProbe,
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("search %s: %w", filter, err)
	}
	if len(matches) == 0 {
		return domain.Run{}, &domain.NotFoundError{ExperimentIDs: []string{experimentID}, Filter: filter}
	}
	sort.SliceStable(matches, func(i, j int) bool { return domain.EndedAfter(matches[i], matches[j]) })

	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		r.logger.Warn("multiple runs match tag query; using most recent",
			"experiment_id", experimentID,
			"filter", filter,
			"selected_run_id", matches[0].ID,
			"matching_run_ids", ids,
		)
	}
	r.logger.Debug("resolved run", "experiment_id", experimentID, "filter", filter, "run_id", matches[0].ID)
	return matches[0], nil
}

// FindLive returns the current live run identifier.
func (r *Resolver) FindLive(ctx context.Context, experimentID string) (string, error) {
	return r.FindRun(ctx, experimentID, r.liveTag, domain.TagTrue)
}

// FindCandidate returns the most recent production candidate identifier.
func (r *Resolver) FindCandidate(ctx context.Context, experimentID string) (string, error) {
	return r.FindRun(ctx, experimentID, r.candidateTag, domain.TagTrue)
}

// LiveTag is the tag name used by FindLive.
func (r *Resolver) LiveTag() string { return r.liveTag }

// CandidateTag is the tag name used by FindCandidate.
func (r *Resolver) CandidateTag() string { return r.candidateTag }
