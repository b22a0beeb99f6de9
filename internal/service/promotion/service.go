package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/auditlog"
	"github.com/animus-labs/modelctl/internal/platform/requestid"
	"github.com/animus-labs/modelctl/internal/repo"
	"github.com/google/uuid"
)

const (
	auditResourceType = "run"
	actionPromote     = "run.promote"
	actionRegister    = "run.register"
)

// LiveRunFinder resolves the current live run when the caller does not name
// one.
type LiveRunFinder interface {
	FindLive(ctx context.Context, experimentID string) (string, error)
}

type Service struct {
	registry     repo.RunRegistry
	batch        repo.TagBatchWriter
	reader       repo.RunReader
	finder       LiveRunFinder
	audit        repo.AuditEventAppender
	logger       *slog.Logger
	liveTag      string
	candidateTag string
	actor        string
	now          func() time.Time
}

type Option func(*Service)

// WithTags overrides the live and candidate tag names.
func WithTags(liveTag, candidateTag string) Option {
	return func(s *Service) {
		if strings.TrimSpace(liveTag) != "" {
			s.liveTag = strings.TrimSpace(liveTag)
		}
		if strings.TrimSpace(candidateTag) != "" {
			s.candidateTag = strings.TrimSpace(candidateTag)
		}
	}
}

// WithAudit records every applied write set as an audit event.
func WithAudit(appender repo.AuditEventAppender, actor string) Option {
	return func(s *Service) {
		s.audit = appender
		if strings.TrimSpace(actor) != "" {
			s.actor = strings.TrimSpace(actor)
		}
	}
}

// WithLiveRunFinder lets Promote look up the previous live run itself.
func WithLiveRunFinder(finder LiveRunFinder) Option {
	return func(s *Service) {
		s.finder = finder
	}
}

// WithClock replaces the time source used for audit events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the promotion service. When registry also implements
// repo.TagBatchWriter every write set is applied atomically.
func NewService(registry repo.RunRegistry, logger *slog.Logger, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("run registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry:     registry,
		logger:       logger,
		liveTag:      domain.DefaultLiveTag,
		candidateTag: domain.DefaultCandidateTag,
		actor:        "modelctl",
		now:          time.Now,
	}
	if batch, ok := registry.(repo.TagBatchWriter); ok {
		s.batch = batch
	}
	if reader, ok := registry.(repo.RunReader); ok {
		s.reader = reader
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type Request struct {
	ExperimentID string
	NewRunID     string
	// PreviousLiveRunID is demoted first. When empty and a LiveRunFinder is
	// configured, the current live run of ExperimentID is used; an
	// experiment without a live run is promoted without a demotion.
	PreviousLiveRunID string
	// KeepOtherCandidates skips resetting the candidate tag of the other
	// runs of ExperimentID. Without an ExperimentID there is nothing to
	// sweep.
	KeepOtherCandidates bool
}

type Result struct {
	PromotionID       string
	PreviousLiveRunID string
	Writes            []domain.TagWrite
	Atomic            bool
}

// Promote moves NewRunID to live. Writes are absolute, so re-running a
// promotion with the same request repairs a partially applied one.
func (s *Service) Promote(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.registry == nil {
		return Result{}, errors.New("promotion service not initialized")
	}
	req.ExperimentID = strings.TrimSpace(req.ExperimentID)
	req.NewRunID = strings.TrimSpace(req.NewRunID)
	req.PreviousLiveRunID = strings.TrimSpace(req.PreviousLiveRunID)
	if req.NewRunID == "" {
		return Result{}, errors.New("new run id is required")
	}

	res := Result{PromotionID: uuid.NewString()}
	logger := s.logger.With("promotion_id", res.PromotionID, "new_run_id", req.NewRunID)

	previous, err := s.previousLive(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res.PreviousLiveRunID = previous

	writes := PlanPromotion(req.NewRunID, previous, s.liveTag, s.candidateTag)
	if req.ExperimentID != "" && !req.KeepOtherCandidates {
		stale, err := s.staleCandidates(ctx, req.ExperimentID, req.NewRunID)
		if err != nil {
			return Result{}, err
		}
		for _, id := range stale {
			writes = append(writes, domain.TagWrite{RunID: id, Key: s.candidateTag, Value: domain.TagFalse})
		}
	}

	res.Atomic, err = s.apply(ctx, logger, writes)
	if err != nil {
		return Result{}, err
	}
	res.Writes = writes
	logger.Info("run promoted", "previous_live_run_id", previous, "writes", len(writes), "atomic", res.Atomic)

	s.record(ctx, logger, actionPromote, req.NewRunID, map[string]any{
		"promotion_id":         res.PromotionID,
		"experiment_id":        req.ExperimentID,
		"previous_live_run_id": previous,
		"writes":               writePayload(writes),
	})
	return res, nil
}

// PlanPromotion lists the tag writes of a promotion in the order they must
// be applied.
func PlanPromotion(newRunID, previousLiveRunID, liveTag, candidateTag string) []domain.TagWrite {
	writes := make([]domain.TagWrite, 0, 3)
	if previousLiveRunID != "" && previousLiveRunID != newRunID {
		writes = append(writes, domain.TagWrite{RunID: previousLiveRunID, Key: liveTag, Value: domain.TagFalse})
	}
	writes = append(writes,
		domain.TagWrite{RunID: newRunID, Key: liveTag, Value: domain.TagTrue},
		domain.TagWrite{RunID: newRunID, Key: candidateTag, Value: domain.TagFalse},
	)
	return writes
}

// Register tags a freshly trained run. A production-ready run goes straight
// to live; any other run is marked as a candidate awaiting review.
func (s *Service) Register(ctx context.Context, runID string, productionReady bool) ([]domain.TagWrite, error) {
	if s == nil || s.registry == nil {
		return nil, errors.New("promotion service not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	var writes []domain.TagWrite
	if productionReady {
		writes = []domain.TagWrite{{RunID: runID, Key: s.liveTag, Value: domain.TagTrue}}
	} else {
		writes = []domain.TagWrite{
			{RunID: runID, Key: s.liveTag, Value: domain.TagFalse},
			{RunID: runID, Key: s.candidateTag, Value: domain.TagTrue},
		}
	}
	logger := s.logger.With("run_id", runID)
	if _, err := s.apply(ctx, logger, writes); err != nil {
		return nil, err
	}
	logger.Info("run registered", "production_ready", productionReady)
	s.record(ctx, logger, actionRegister, runID, map[string]any{
		"production_ready": productionReady,
		"writes":           writePayload(writes),
	})
	return writes, nil
}

// State derives the promotion state of a run from its tags.
func (s *Service) State(ctx context.Context, runID string) (domain.PromotionState, error) {
	if s == nil || s.reader == nil {
		return "", errors.New("run registry cannot read single runs")
	}
	run, err := s.reader.GetRun(ctx, strings.TrimSpace(runID))
	if err != nil {
		return "", fmt.Errorf("get run %s: %w", runID, err)
	}
	return domain.DerivePromotionState(run, s.liveTag, s.candidateTag), nil
}

func (s *Service) previousLive(ctx context.Context, req Request) (string, error) {
	if req.PreviousLiveRunID != "" || s.finder == nil || req.ExperimentID == "" {
		return req.PreviousLiveRunID, nil
	}
	id, err := s.finder.FindLive(ctx, req.ExperimentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Info("experiment has no live run", "experiment_id", req.ExperimentID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve previous live run: %w", err)
	}
	return id, nil
}

func (s *Service) staleCandidates(ctx context.Context, experimentID, keep string) ([]string, error) {
	found, err := s.registry.SearchRuns(ctx, repo.RunSearch{
		ExperimentIDs: []string{experimentID},
		Filter:        domain.FormatFilter(domain.TagFilter{Name: s.candidateTag, Value: domain.TagTrue}),
		OrderBy:       []string{domain.OrderByEndTimeDesc},
	})
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	ids := make([]string, 0, len(found))
	for _, run := range found {
		if run.ID != keep {
			ids = append(ids, run.ID)
		}
	}
	return ids, nil
}

// apply writes the tags in order. It reports whether the set was applied in
// one transaction.
func (s *Service) apply(ctx context.Context, logger *slog.Logger, writes []domain.TagWrite) (bool, error) {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return false, err
		}
	}
	if s.batch != nil {
		if err := s.batch.SetTags(ctx, writes); err != nil {
			return false, fmt.Errorf("apply tag writes: %w", err)
		}
		return true, nil
	}

	applied := make([]domain.TagWrite, 0, len(writes))
	for i, w := range writes {
		if err := s.registry.SetTag(ctx, w.RunID, w.Key, w.Value); err != nil {
			logger.Error("tag write failed", "step", i+1, "write", w.String(), "applied", len(applied), "error", err)
			return false, &domain.PromotionStepError{Step: i + 1, Write: w, Applied: applied, Err: err}
		}
		logger.Debug("tag written", "step", i+1, "write", w.String())
		applied = append(applied, w)
	}
	return false, nil
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, action, runID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	id, err := s.audit.Append(ctx, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        s.actor,
		Action:       action,
		ResourceType: auditResourceType,
		ResourceID:   runID,
		RequestID:    requestid.FromContext(ctx),
		Payload:      payload,
	})
	if err != nil {
		logger.Warn("audit append failed", "action", action, "error", err)
		return
	}
	logger.Debug("audit event recorded", "event_id", id)
}

func writePayload(writes []domain.TagWrite) []map[string]string {
	out := make([]map[string]string, 0, len(writes))
	for _, w := range writes {
		out = append(out, map[string]string{"run_id": w.RunID, "key": w.Key, "value": w.Value})
	}
	return out
}
