package promotion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/auditlog"
	"github.com/animus-labs/modelctl/internal/platform/requestid"
	"github.com/animus-labs/modelctl/internal/repo"
	"github.com/animus-labs/modelctl/internal/repo/repotest"
	"github.com/animus-labs/modelctl/internal/service/runs"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type stubAppender struct {
	events []auditlog.Event
	err    error
}

func (a *stubAppender) Append(_ context.Context, event auditlog.Event) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.events = append(a.events, event)
	return int64(len(a.events)), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioRegistry() *repotest.Registry {
	return repotest.NewRegistry(
		repotest.NewRun("A", "2", base, map[string]string{"live": "1"}),
		repotest.NewRun("B", "2", base.Add(time.Hour), map[string]string{"production_candidate": "1"}),
	)
}

func newService(t *testing.T, reg repo.RunRegistry, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(reg, quietLogger(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestPromoteScenario(t *testing.T) {
	reg := scenarioRegistry()
	s := newService(t, reg)

	res, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B", PreviousLiveRunID: "A"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.Atomic {
		t.Fatalf("plain registry cannot apply atomically")
	}
	if res.PromotionID == "" {
		t.Fatalf("expected a promotion id")
	}
	want := []domain.TagWrite{
		{RunID: "A", Key: "live", Value: "0"},
		{RunID: "B", Key: "live", Value: "1"},
		{RunID: "B", Key: "production_candidate", Value: "0"},
	}
	if len(reg.Writes) != len(want) {
		t.Fatalf("expected %d writes, got %v", len(want), reg.Writes)
	}
	for i := range want {
		if reg.Writes[i] != want[i] {
			t.Fatalf("write %d: expected %s, got %s", i, want[i], reg.Writes[i])
		}
	}

	resolver, err := runs.NewResolver(reg, quietLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	live, err := resolver.FindLive(context.Background(), "2")
	if err != nil || live != "B" {
		t.Fatalf("FindLive = %q, %v", live, err)
	}
	if state, _ := s.State(context.Background(), "A"); state != domain.PromotionRetired {
		t.Fatalf("expected A retired, got %s", state)
	}
	if state, _ := s.State(context.Background(), "B"); state != domain.PromotionLive {
		t.Fatalf("expected B live, got %s", state)
	}
}

func TestPromoteResetsOtherCandidates(t *testing.T) {
	reg := scenarioRegistry()
	reg.Add(repotest.NewRun("C", "2", base.Add(2*time.Hour), map[string]string{"production_candidate": "1"}))
	s := newService(t, reg)

	if _, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B", PreviousLiveRunID: "A"}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if reg.Tag("C", "production_candidate") != "0" {
		t.Fatalf("expected candidate C reset, got %q", reg.Tag("C", "production_candidate"))
	}
	if reg.Tag("B", "live") != "1" || reg.Tag("B", "production_candidate") != "0" || reg.Tag("A", "live") != "0" {
		t.Fatalf("unexpected tags after promotion")
	}
}

func TestPromoteKeepOtherCandidates(t *testing.T) {
	reg := scenarioRegistry()
	reg.Add(repotest.NewRun("C", "2", base.Add(2*time.Hour), map[string]string{"production_candidate": "1"}))
	s := newService(t, reg)

	res, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B", PreviousLiveRunID: "A", KeepOtherCandidates: true})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(res.Writes) != 3 || reg.Tag("C", "production_candidate") != "1" {
		t.Fatalf("expected C untouched, got writes %v", res.Writes)
	}
}

func TestPromotePartialFailureThenRetry(t *testing.T) {
	reg := scenarioRegistry()
	fail := domain.TagWrite{RunID: "B", Key: "live", Value: "1"}
	reg.FailOn = &fail
	reg.Err = errors.New("registry unavailable")
	s := newService(t, reg)

	_, err := s.Promote(context.Background(), Request{NewRunID: "B", PreviousLiveRunID: "A"})
	var stepErr *domain.PromotionStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected PromotionStepError, got %v", err)
	}
	if stepErr.Step != 2 || stepErr.Write != fail {
		t.Fatalf("unexpected failing step %d (%s)", stepErr.Step, stepErr.Write)
	}
	if len(stepErr.Applied) != 1 || stepErr.Applied[0].RunID != "A" {
		t.Fatalf("expected demotion to be reported as applied, got %v", stepErr.Applied)
	}
	if !errors.Is(err, domain.ErrPartialPromote) {
		t.Fatalf("expected partial promotion sentinel")
	}
	if reg.Tag("A", "live") != "0" {
		t.Fatalf("applied writes must stay in place")
	}

	reg.FailOn = nil
	if _, err := s.Promote(context.Background(), Request{NewRunID: "B", PreviousLiveRunID: "A"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if reg.Tag("A", "live") != "0" || reg.Tag("B", "live") != "1" || reg.Tag("B", "production_candidate") != "0" {
		t.Fatalf("retry did not converge: A=%v B=%v", reg.Tag("A", "live"), reg.Tag("B", "live"))
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	reg := scenarioRegistry()
	s := newService(t, reg)
	req := Request{NewRunID: "B", PreviousLiveRunID: "A"}
	if _, err := s.Promote(context.Background(), req); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	first, _ := reg.Run("B")
	if _, err := s.Promote(context.Background(), req); err != nil {
		t.Fatalf("Promote again: %v", err)
	}
	second, _ := reg.Run("B")
	for k, v := range first.Tags {
		if second.Tags[k] != v {
			t.Fatalf("tag %s changed from %s to %s", k, v, second.Tags[k])
		}
	}
}

func TestPromoteBatchIsAtomic(t *testing.T) {
	reg := &repotest.BatchRegistry{Registry: scenarioRegistry()}
	fail := domain.TagWrite{RunID: "B", Key: "production_candidate", Value: "0"}
	reg.FailOn = &fail
	reg.Err = errors.New("serialization failure")
	s := newService(t, reg)

	if _, err := s.Promote(context.Background(), Request{NewRunID: "B", PreviousLiveRunID: "A"}); err == nil {
		t.Fatalf("expected failure")
	}
	if len(reg.Writes) != 0 || reg.Tag("A", "live") != "1" {
		t.Fatalf("failed batch must leave tags untouched, got %v", reg.Writes)
	}

	reg.FailOn = nil
	res, err := s.Promote(context.Background(), Request{NewRunID: "B", PreviousLiveRunID: "A"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !res.Atomic || len(reg.Batches) != 1 {
		t.Fatalf("expected one atomic batch, got atomic=%v batches=%d", res.Atomic, len(reg.Batches))
	}
}

func TestPromoteClearsStaleCandidatesAndResolvesPrevious(t *testing.T) {
	reg := scenarioRegistry()
	reg.Add(repotest.NewRun("C", "2", base.Add(2*time.Hour), map[string]string{"production_candidate": "1"}))
	reg.Add(repotest.NewRun("other", "9", base, map[string]string{"production_candidate": "1"}))
	resolver, err := runs.NewResolver(reg, quietLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	s := newService(t, reg, WithLiveRunFinder(resolver))

	res, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.PreviousLiveRunID != "A" {
		t.Fatalf("expected A to be resolved as previous live, got %q", res.PreviousLiveRunID)
	}
	if reg.Tag("A", "live") != "0" {
		t.Fatalf("expected A demoted")
	}
	if reg.Tag("C", "production_candidate") != "0" {
		t.Fatalf("expected stale candidate C cleared")
	}
	if reg.Tag("other", "production_candidate") != "1" {
		t.Fatalf("runs of other experiments must not be touched")
	}
}

func TestPromoteWithoutLiveRun(t *testing.T) {
	reg := repotest.NewRegistry(repotest.NewRun("B", "2", base, map[string]string{"production_candidate": "1"}))
	resolver, _ := runs.NewResolver(reg, quietLogger())
	s := newService(t, reg, WithLiveRunFinder(resolver))

	res, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.PreviousLiveRunID != "" || len(res.Writes) != 2 {
		t.Fatalf("expected promotion without demotion, got %+v", res)
	}
}

func TestPromoteRecordsAudit(t *testing.T) {
	reg := scenarioRegistry()
	audit := &stubAppender{}
	fixed := base.Add(24 * time.Hour)
	s := newService(t, reg, WithAudit(audit, "ci"), WithClock(func() time.Time { return fixed }))

	ctx := requestid.WithID(context.Background(), "ci-42")
	res, err := s.Promote(ctx, Request{ExperimentID: "2", NewRunID: "B", PreviousLiveRunID: "A"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(audit.events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(audit.events))
	}
	ev := audit.events[0]
	if ev.Actor != "ci" || ev.Action != actionPromote || ev.ResourceID != "B" || ev.RequestID != "ci-42" || !ev.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected event %+v", ev)
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok || payload["promotion_id"] != res.PromotionID {
		t.Fatalf("expected promotion id in payload, got %v", ev.Payload)
	}

	audit.err = errors.New("audit table missing")
	if _, err := s.Promote(context.Background(), Request{NewRunID: "B", PreviousLiveRunID: "A"}); err != nil {
		t.Fatalf("audit failure must not fail an applied promotion: %v", err)
	}
}

func TestRegister(t *testing.T) {
	reg := repotest.NewRegistry(
		repotest.NewRun("fresh", "2", base, nil),
		repotest.NewRun("ready", "2", base, nil),
	)
	s := newService(t, reg)

	if state, _ := s.State(context.Background(), "fresh"); state != domain.PromotionNone {
		t.Fatalf("expected none, got %s", state)
	}
	if _, err := s.Register(context.Background(), "fresh", false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if state, _ := s.State(context.Background(), "fresh"); state != domain.PromotionCandidate {
		t.Fatalf("expected candidate, got %s", state)
	}
	if _, err := s.Register(context.Background(), "ready", true); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if state, _ := s.State(context.Background(), "ready"); state != domain.PromotionLive {
		t.Fatalf("expected live, got %s", state)
	}
	if _, err := s.Register(context.Background(), "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown run, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	reg := repotest.NewRegistry(
		repotest.NewRun("A", "2", base, map[string]string{"live": "1"}),
		repotest.NewRun("B", "2", base.Add(time.Hour), map[string]string{"live": "1", "production_candidate": "1"}),
		repotest.NewRun("C", "2", base.Add(2*time.Hour), map[string]string{"production_candidate": "1"}),
	)
	s := newService(t, reg)

	report, err := s.Check(context.Background(), "2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatalf("expected violations")
	}
	if len(report.Violations) != 2 {
		t.Fatalf("expected two violations, got %v", report.Violations)
	}
	if len(report.Live) != 2 || report.Live[0] != "B" {
		t.Fatalf("expected live runs newest first, got %v", report.Live)
	}

	if _, err := s.Promote(context.Background(), Request{ExperimentID: "2", NewRunID: "B", PreviousLiveRunID: "A"}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	report, err = s.Check(context.Background(), "2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() || len(report.Candidates) != 0 {
		t.Fatalf("expected clean report after promotion, got %+v", report)
	}
}

func TestPlanPromotionSkipsSelfDemotion(t *testing.T) {
	writes := PlanPromotion("B", "B", "live", "production_candidate")
	if len(writes) != 2 || writes[0].Value != domain.TagTrue {
		t.Fatalf("unexpected plan %v", writes)
	}
}
