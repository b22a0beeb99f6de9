package promotion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
)

// Report summarizes the promotion tags of one experiment.
type Report struct {
	ExperimentID string
	Live         []string
	Candidates   []string
	Violations   []string
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Check lists the live and candidate runs of an experiment and reports
// violations: more than one live run, or a run that is live and a candidate
// at the same time.
func (s *Service) Check(ctx context.Context, experimentID string) (Report, error) {
	if s == nil || s.registry == nil {
		return Report{}, errors.New("promotion service not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return Report{}, errors.New("experiment id is required")
	}
	live, err := s.tagged(ctx, experimentID, s.liveTag)
	if err != nil {
		return Report{}, err
	}
	candidates, err := s.tagged(ctx, experimentID, s.candidateTag)
	if err != nil {
		return Report{}, err
	}

	report := Report{ExperimentID: experimentID, Live: live, Candidates: candidates}
	if len(live) > 1 {
		report.Violations = append(report.Violations, fmt.Sprintf("%d runs hold %s=%s: %s", len(live), s.liveTag, domain.TagTrue, strings.Join(live, ", ")))
	}
	isCandidate := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		isCandidate[id] = true
	}
	for _, id := range live {
		if isCandidate[id] {
			report.Violations = append(report.Violations, fmt.Sprintf("run %s holds both %s=%s and %s=%s", id, s.liveTag, domain.TagTrue, s.candidateTag, domain.TagTrue))
		}
	}
	if !report.OK() {
		s.logger.Warn("promotion invariants violated", "experiment_id", experimentID, "violations", len(report.Violations))
	}
	return report, nil
}

func (s *Service) tagged(ctx context.Context, experimentID, tag string) ([]string, error) {
	found, err := s.registry.SearchRuns(ctx, repo.RunSearch{
		ExperimentIDs: []string{experimentID},
		Filter:        domain.FormatFilter(domain.TagFilter{Name: tag, Value: domain.TagTrue}),
		OrderBy:       []string{domain.OrderByEndTimeDesc},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s runs: %w", tag, err)
	}
	sort.SliceStable(found, func(i, j int) bool { return domain.EndedAfter(found[i], found[j]) })
	ids := make([]string, 0, len(found))
	for _, run := range found {
		ids = append(ids, run.ID)
	}
	return ids, nil
}
