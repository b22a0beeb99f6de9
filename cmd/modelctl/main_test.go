package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/model/modeltest"
	"github.com/animus-labs/modelctl/internal/repo"
	"github.com/animus-labs/modelctl/internal/repo/repotest"
	store "github.com/animus-labs/modelctl/internal/storage/objectstore"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
	return nil
}

func (s *memStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, store.ObjectInfo, error) {
	info, err := s.Stat(ctx, bucket, key)
	if err != nil {
		return nil, store.ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(s.objects[bucket+"/"+key])), info, nil
}

func (s *memStore) Stat(_ context.Context, bucket, key string) (store.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return store.ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, domain.ErrNotFound)
	}
	return store.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

type harness struct {
	reg            *repotest.Registry
	objects        *memStore
	stdout         bytes.Buffer
	stderr         bytes.Buffer
	registryOpened int
}

func newHarness(t *testing.T, runs ...domain.Run) *harness {
	t.Helper()
	t.Setenv("MODELCTL_CONFIG", "")
	t.Setenv("MLFLOW_TRACKING_URI", "")
	t.Setenv("MODELCTL_EXPERIMENT_ID", "")
	t.Setenv("MODELCTL_CACHE_DIR", t.TempDir())
	t.Setenv("MODELCTL_DEPLOYMENT_MODE", "")
	reg := repotest.NewRegistry(runs...)
	reg.Experiments = map[string]domain.Experiment{"2": {ID: "2", Name: "sentiment"}}
	return &harness{reg: reg, objects: &memStore{objects: map[string][]byte{}}}
}

func (h *harness) run(stdin string, args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	a := newApp(strings.NewReader(stdin), &h.stdout, &h.stderr)
	a.openRegistry = func(context.Context) (registry, repo.AuditEventAppender, error) {
		h.registryOpened++
		return h.reg, nil, nil
	}
	a.openStore = func(context.Context, bool) (store.Store, error) {
		return h.objects, nil
	}
	a.openDB = func(context.Context) (*sql.DB, error) {
		return nil, errors.New("no database")
	}
	return run(context.Background(), a, args)
}

func scenario(t *testing.T) *harness {
	return newHarness(t,
		repotest.NewRun("A", "2", base, map[string]string{"live": "1"}),
		repotest.NewRun("B", "2", base.Add(time.Hour), map[string]string{"production_candidate": "1"}),
	)
}

func saveModel(t *testing.T, dir string) {
	t.Helper()
	texts := []string{"wonderful music", "great acting", "awful plot", "terrible waste"}
	labels := []string{"positive", "positive", "negative", "negative"}
	pair := domain.LocalArtifactPair{
		FeatureEngineeringPath: filepath.Join(dir, domain.DefaultFeatureEngineeringFile),
		ClassifierPath:         filepath.Join(dir, domain.DefaultClassifierFile),
	}
	if _, err := modeltest.Write(pair, texts, labels); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func TestLive(t *testing.T) {
	h := scenario(t)
	if code := h.run("", "live"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.stdout.String() != "A\n" {
		t.Fatalf("expected only the run id on stdout, got %q", h.stdout.String())
	}

	if code := h.run("", "--experiment-id", "9", "live"); code != exitNotFound {
		t.Fatalf("expected exit %d, got %d", exitNotFound, code)
	}
	if h.stdout.Len() != 0 || !strings.Contains(h.stderr.String(), "modelctl: no run matches") {
		t.Fatalf("expected diagnostic on stderr, got stdout=%q stderr=%q", h.stdout.String(), h.stderr.String())
	}
}

func TestPromoteThenLive(t *testing.T) {
	h := scenario(t)
	if code := h.run("", "promote", "B", "A"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	want := "A\tlive=0\nB\tlive=1\nB\tproduction_candidate=0\n"
	if h.stdout.String() != want {
		t.Fatalf("unexpected output %q", h.stdout.String())
	}
	if code := h.run("", "live"); code != exitOK || h.stdout.String() != "B\n" {
		t.Fatalf("expected B live, got %q (exit %d)", h.stdout.String(), code)
	}
	if code := h.run("", "state", "A"); code != exitOK || h.stdout.String() != "retired\n" {
		t.Fatalf("expected A retired, got %q (exit %d)", h.stdout.String(), code)
	}
}

func TestPromoteResolvesCandidateAndPrevious(t *testing.T) {
	h := scenario(t)
	h.reg.Add(repotest.NewRun("C", "2", base.Add(30*time.Minute), map[string]string{"production_candidate": "1"}))
	if code := h.run("", "promote"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.reg.Tag("B", "live") != "1" || h.reg.Tag("A", "live") != "0" {
		t.Fatalf("expected B promoted over A")
	}
	if h.reg.Tag("C", "production_candidate") != "0" {
		t.Fatalf("expected stale candidate C cleared")
	}
	if code := h.run("", "check"); code != exitOK {
		t.Fatalf("expected consistent tags, exit %d: %s", code, h.stdout.String())
	}
}

func TestPromoteKeepCandidates(t *testing.T) {
	h := scenario(t)
	h.reg.Add(repotest.NewRun("C", "2", base.Add(30*time.Minute), map[string]string{"production_candidate": "1"}))
	if code := h.run("", "promote", "B", "A", "--keep-candidates"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.reg.Tag("C", "production_candidate") != "1" {
		t.Fatalf("expected candidate C kept")
	}
}

func TestPromotePartialFailure(t *testing.T) {
	h := scenario(t)
	h.reg.FailOn = &domain.TagWrite{RunID: "B", Key: "live", Value: "1"}
	h.reg.Err = errors.New("connection reset")
	if code := h.run("", "promote", "B", "A"); code != exitInconsistent {
		t.Fatalf("expected exit %d, got %d", exitInconsistent, code)
	}
	if !strings.Contains(h.stderr.String(), "step 2") {
		t.Fatalf("expected failing step in diagnostic, got %q", h.stderr.String())
	}
}

func TestCheckReportsViolations(t *testing.T) {
	h := newHarness(t,
		repotest.NewRun("A", "2", base, map[string]string{"live": "1"}),
		repotest.NewRun("B", "2", base.Add(time.Hour), map[string]string{"live": "1"}),
	)
	if code := h.run("", "check"); code != exitInconsistent {
		t.Fatalf("expected exit %d, got %d", exitInconsistent, code)
	}
	if !strings.Contains(h.stdout.String(), "live:\tB,A") || !strings.Contains(h.stdout.String(), "violation:") {
		t.Fatalf("unexpected report %q", h.stdout.String())
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t, repotest.NewRun("N", "2", base, nil))
	if code := h.run("", "register"); code != exitConfig {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code := h.run("", "register", "--run-id", "N"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.reg.Tag("N", "production_candidate") != "1" || h.reg.Tag("N", "live") != "0" {
		t.Fatalf("expected candidate tags, got %v", h.stdout.String())
	}
}

func TestCompare(t *testing.T) {
	a := repotest.NewRun("A", "2", base, map[string]string{"live": "1"})
	a.Metrics["training accuracy"] = 0.91234
	b := repotest.NewRun("B", "2", base.Add(time.Hour), map[string]string{"production_candidate": "1"})
	b.Metrics["training accuracy"] = 0.95
	h := newHarness(t, a, b)

	if code := h.run("", "compare"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	want := "| **Model** | **Accuracy** |\n" +
		"| ---------- | -------------- |\n" +
		"| _Baseline_ | 0.9123 |\n" +
		"| _Candidate_ | 0.95 |\n"
	if h.stdout.String() != want {
		t.Fatalf("unexpected table:\n%s", h.stdout.String())
	}

	if code := h.run("", "compare", "--metric", "test accuracy"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(h.stdout.String(), "| _Baseline_ | n/a |") {
		t.Fatalf("expected n/a for missing metric, got %q", h.stdout.String())
	}
}

func TestConfigGet(t *testing.T) {
	h := newHarness(t)
	if code := h.run("", "config", "get", "EXPERIMENT_ID"); code != exitOK || h.stdout.String() != "2\n" {
		t.Fatalf("config get = %q (exit %d)", h.stdout.String(), code)
	}
	if code := h.run("", "config", "get", "nope"); code != exitConfig {
		t.Fatalf("expected config exit, got %d", code)
	}
	if h.registryOpened != 0 {
		t.Fatalf("config must not open the registry")
	}
}

func TestInvalidDeploymentMode(t *testing.T) {
	h := newHarness(t)
	if code := h.run("", "--deployment-mode", "ftp", "fetch"); code != exitConfig {
		t.Fatalf("expected config exit, got %d", code)
	}
	if code := h.run("", "live", "--bogus"); code != exitConfig {
		t.Fatalf("expected usage exit for unknown flag, got %d", code)
	}
}

func TestPredictLocal(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	saveModel(t, dir)
	t.Setenv("MODELCTL_DEPLOYMENT_MODE", "local")
	t.Setenv("MODELCTL_LOCAL_ARTIFACT_DIR", dir)

	if code := h.run("", "predict", "wonderful music", "awful waste"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.stdout.String() != "positive\nnegative\n" {
		t.Fatalf("unexpected predictions %q", h.stdout.String())
	}
	if code := h.run("great acting\nterrible plot\n", "predict"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.stdout.String() != "positive\nnegative\n" {
		t.Fatalf("unexpected predictions from stdin %q", h.stdout.String())
	}
	if h.registryOpened != 0 {
		t.Fatalf("LOCAL mode must not open the registry")
	}

	if err := os.WriteFile(filepath.Join(dir, domain.DefaultClassifierFile), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := h.run("", "predict", "anything"); code != exitArtifactCorrupt {
		t.Fatalf("expected corrupt exit, got %d", code)
	}
}

func TestPublishAndPredictTracked(t *testing.T) {
	h := scenario(t)
	dir := t.TempDir()
	saveModel(t, dir)
	t.Setenv("MODELCTL_DEPLOYMENT_MODE", "s3_mlflow")

	if code := h.run("", "fetch"); code != exitArtifactMissing {
		t.Fatalf("expected missing artifact exit, got %d: %s", code, h.stderr.String())
	}
	if code := h.run("", "publish", "--run-id", "A", "--dir", dir); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "s3://workshop-mlflow-artifacts/sentiment/A/artifacts/classifier.joblib") {
		t.Fatalf("unexpected publish output %q", h.stdout.String())
	}
	if code := h.run("", "predict", "wonderful music"); code != exitOK {
		t.Fatalf("exit %d: %s", code, h.stderr.String())
	}
	if h.stdout.String() != "positive\n" {
		t.Fatalf("unexpected prediction %q", h.stdout.String())
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{&domain.ConfigurationError{Field: "x"}, exitConfig},
		{&usageError{err: errors.New("bad flag")}, exitConfig},
		{&domain.NotFoundError{Filter: "tags.live='1'"}, exitNotFound},
		{&domain.ArtifactMissingError{Artifact: domain.ArtifactClassifier, Err: domain.ErrNotFound}, exitArtifactMissing},
		{&domain.ArtifactCorruptError{Artifact: domain.ArtifactClassifier, Err: errors.New("bad")}, exitArtifactCorrupt},
		{&domain.PromotionStepError{Step: 2, Err: domain.ErrNotFound}, exitInconsistent},
		{fmt.Errorf("experiment 2: %w", errInvariantViolated), exitInconsistent},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
