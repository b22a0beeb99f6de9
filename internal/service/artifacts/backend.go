package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
	store "github.com/animus-labs/modelctl/internal/storage/objectstore"
)

// Backend locates and materializes the deployed artifact pair. One variant
// exists per deployment mode; it is chosen once by NewBackend.
type Backend interface {
	Mode() domain.DeploymentMode
	// Resolve computes where both artifacts live and where they must land
	// locally. It transfers nothing.
	Resolve(ctx context.Context) (domain.ArtifactSet, error)
	// Materialize makes both artifacts of set available on local disk and
	// verifies that they exist.
	Materialize(ctx context.Context, set domain.ArtifactSet) (domain.LocalArtifactPair, error)
}

// LiveRunFinder resolves the live run of an experiment.
type LiveRunFinder interface {
	FindLive(ctx context.Context, experimentID string) (string, error)
}

// Files holds the fixed artifact file names.
type Files struct {
	FeatureEngineering string
	Classifier         string
}

func DefaultFiles() Files {
	return Files{
		FeatureEngineering: domain.DefaultFeatureEngineeringFile,
		Classifier:         domain.DefaultClassifierFile,
	}
}

func (f Files) name(artifact domain.ArtifactName) string {
	if artifact == domain.ArtifactClassifier {
		return f.Classifier
	}
	return f.FeatureEngineering
}

func (f Files) withDefaults() Files {
	def := DefaultFiles()
	if strings.TrimSpace(f.FeatureEngineering) == "" {
		f.FeatureEngineering = def.FeatureEngineering
	}
	if strings.TrimSpace(f.Classifier) == "" {
		f.Classifier = def.Classifier
	}
	return f
}

type Options struct {
	Mode  domain.DeploymentMode
	Files Files

	// LocalDir holds the artifacts in LOCAL mode.
	LocalDir string
	// CacheDir receives downloaded artifacts in the remote modes.
	CacheDir string

	Bucket string
	Store  store.Store
	// StorePrefix is the fixed key prefix of REMOTE_STORE.
	StorePrefix string

	ExperimentID   string
	ExperimentName string
	Runs           LiveRunFinder
	// Experiments resolves ExperimentName when it is not configured.
	Experiments repo.ExperimentReader

	Logger *slog.Logger
}

// NewBackend selects the backend variant for opts.Mode.
func NewBackend(opts Options) (Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Files = opts.Files.withDefaults()

	switch opts.Mode {
	case domain.DeploymentLocal:
		dir := strings.TrimSpace(opts.LocalDir)
		if dir == "" {
			return nil, errors.New("local artifact dir is required")
		}
		return &localBackend{dir: dir, files: opts.Files, logger: opts.Logger}, nil
	case domain.DeploymentRemoteStore:
		f, err := newFetcher(opts)
		if err != nil {
			return nil, err
		}
		prefix := strings.Trim(strings.TrimSpace(opts.StorePrefix), "/")
		if prefix == "" {
			return nil, errors.New("store prefix is required")
		}
		return &storeBackend{fetcher: f, prefix: prefix}, nil
	case domain.DeploymentRemoteTracked:
		f, err := newFetcher(opts)
		if err != nil {
			return nil, err
		}
		if opts.Runs == nil {
			return nil, errors.New("live run finder is required")
		}
		if strings.TrimSpace(opts.ExperimentID) == "" {
			return nil, errors.New("experiment id is required")
		}
		if strings.TrimSpace(opts.ExperimentName) == "" && opts.Experiments == nil {
			return nil, errors.New("experiment name is required")
		}
		return &trackedBackend{
			fetcher:        f,
			runs:           opts.Runs,
			experiments:    opts.Experiments,
			experimentID:   strings.TrimSpace(opts.ExperimentID),
			experimentName: strings.TrimSpace(opts.ExperimentName),
		}, nil
	default:
		return nil, &domain.ConfigurationError{Field: "deployment_mode", Value: string(opts.Mode), Reason: "unknown deployment mode"}
	}
}

type localBackend struct {
	dir    string
	files  Files
	logger *slog.Logger
}

func (b *localBackend) Mode() domain.DeploymentMode { return domain.DeploymentLocal }

func (b *localBackend) Resolve(ctx context.Context) (domain.ArtifactSet, error) {
	set := domain.ArtifactSet{Mode: domain.DeploymentLocal}
	for _, name := range domain.ArtifactNames {
		p := filepath.Join(b.dir, b.files.name(name))
		loc := domain.ArtifactLocation{Name: name, FileName: b.files.name(name), Source: p, Destination: p}
		assign(&set, loc)
	}
	return set, nil
}

func (b *localBackend) Materialize(ctx context.Context, set domain.ArtifactSet) (domain.LocalArtifactPair, error) {
	if set.Mode != domain.DeploymentLocal {
		return domain.LocalArtifactPair{}, fmt.Errorf("local backend cannot materialize %s artifacts", set.Mode)
	}
	if err := set.Validate(); err != nil {
		return domain.LocalArtifactPair{}, err
	}
	pair, err := inspect(set)
	if err != nil {
		return domain.LocalArtifactPair{}, err
	}
	b.logger.Info("using local artifacts", "feature_engineering", pair.FeatureEngineeringPath, "classifier", pair.ClassifierPath)
	return pair, nil
}

type storeBackend struct {
	*fetcher
	prefix string
}

func (b *storeBackend) Mode() domain.DeploymentMode { return domain.DeploymentRemoteStore }

func (b *storeBackend) Resolve(ctx context.Context) (domain.ArtifactSet, error) {
	return b.set(domain.DeploymentRemoteStore, "", b.prefix, filepath.Join(b.cacheDir, storeCacheDir)), nil
}

func (b *storeBackend) Materialize(ctx context.Context, set domain.ArtifactSet) (domain.LocalArtifactPair, error) {
	if set.Mode != domain.DeploymentRemoteStore {
		return domain.LocalArtifactPair{}, fmt.Errorf("store backend cannot materialize %s artifacts", set.Mode)
	}
	return b.fetch(ctx, set)
}

type trackedBackend struct {
	*fetcher
	runs           LiveRunFinder
	experiments    repo.ExperimentReader
	experimentID   string
	experimentName string
}

func (b *trackedBackend) Mode() domain.DeploymentMode { return domain.DeploymentRemoteTracked }

func (b *trackedBackend) Resolve(ctx context.Context) (domain.ArtifactSet, error) {
	name, err := b.resolveExperimentName(ctx)
	if err != nil {
		return domain.ArtifactSet{}, err
	}
	runID, err := b.runs.FindLive(ctx, b.experimentID)
	if err != nil {
		return domain.ArtifactSet{}, err
	}
	dest, err := runCacheDir(b.cacheDir, runID)
	if err != nil {
		return domain.ArtifactSet{}, err
	}
	prefix := domain.TrackedPrefix(name, runID)
	b.logger.Info("resolved live run", "experiment_id", b.experimentID, "run_id", runID, "prefix", prefix)
	return b.set(domain.DeploymentRemoteTracked, runID, prefix, dest), nil
}

func (b *trackedBackend) Materialize(ctx context.Context, set domain.ArtifactSet) (domain.LocalArtifactPair, error) {
	if set.Mode != domain.DeploymentRemoteTracked {
		return domain.LocalArtifactPair{}, fmt.Errorf("tracked backend cannot materialize %s artifacts", set.Mode)
	}
	if strings.TrimSpace(set.RunID) == "" {
		return domain.LocalArtifactPair{}, errors.New("tracked artifact set has no run id")
	}
	if _, err := runCacheDir(b.cacheDir, set.RunID); err != nil {
		return domain.LocalArtifactPair{}, err
	}
	return b.fetch(ctx, set)
}

func (b *trackedBackend) resolveExperimentName(ctx context.Context) (string, error) {
	if b.experimentName != "" {
		return b.experimentName, nil
	}
	exp, err := b.experiments.GetExperiment(ctx, b.experimentID)
	if err != nil {
		return "", fmt.Errorf("resolve experiment name: %w", err)
	}
	if strings.TrimSpace(exp.Name) == "" {
		return "", fmt.Errorf("experiment %s has no name", b.experimentID)
	}
	b.experimentName = strings.TrimSpace(exp.Name)
	return b.experimentName, nil
}

// runCacheDir is the cache directory of one run. Run ids come from the
// registry and must name a single path element below the cache.
func runCacheDir(cacheDir, runID string) (string, error) {
	if runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) || filepath.Base(runID) != runID {
		return "", &domain.ConfigurationError{Field: "run_id", Value: runID, Reason: "must be a single path element"}
	}
	return filepath.Join(cacheDir, runID), nil
}

func assign(set *domain.ArtifactSet, loc domain.ArtifactLocation) {
	if loc.Name == domain.ArtifactClassifier {
		set.Classifier = loc
		return
	}
	set.FeatureEngineering = loc
}
