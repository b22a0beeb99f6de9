package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
	store "github.com/animus-labs/modelctl/internal/storage/objectstore"
)

const artifactContentType = "application/octet-stream"

// Publisher uploads a locally trained artifact pair to the location the
// configured deployment mode reads from. In LOCAL mode it only checks that
// both files are present.
type Publisher struct {
	mode           domain.DeploymentMode
	store          store.Store
	bucket         string
	files          Files
	storePrefix    string
	experimentID   string
	experimentName string
	experiments    repo.ExperimentReader
	logger         *slog.Logger
}

func NewPublisher(opts Options) (*Publisher, error) {
	if !opts.Mode.Valid() {
		return nil, &domain.ConfigurationError{Field: "deployment_mode", Value: string(opts.Mode), Reason: "unknown deployment mode"}
	}
	if opts.Mode.Remote() {
		if opts.Store == nil {
			return nil, errors.New("object store is required")
		}
		if strings.TrimSpace(opts.Bucket) == "" {
			return nil, errors.New("bucket is required")
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Publisher{
		mode:           opts.Mode,
		store:          opts.Store,
		bucket:         strings.TrimSpace(opts.Bucket),
		files:          opts.Files.withDefaults(),
		storePrefix:    strings.Trim(strings.TrimSpace(opts.StorePrefix), "/"),
		experimentID:   strings.TrimSpace(opts.ExperimentID),
		experimentName: strings.TrimSpace(opts.ExperimentName),
		experiments:    opts.Experiments,
		logger:         opts.Logger,
	}
	switch p.mode {
	case domain.DeploymentRemoteStore:
		if p.storePrefix == "" {
			return nil, errors.New("store prefix is required")
		}
	case domain.DeploymentRemoteTracked:
		if p.experimentName == "" && (p.experiments == nil || p.experimentID == "") {
			return nil, errors.New("experiment name is required")
		}
	}
	return p, nil
}

// Publish uploads both artifact files from localDir. runID is required for
// REMOTE_TRACKED and ignored for REMOTE_STORE.
func (p *Publisher) Publish(ctx context.Context, runID, localDir string) (domain.ArtifactSet, error) {
	if p == nil {
		return domain.ArtifactSet{}, errors.New("publisher not initialized")
	}
	runID = strings.TrimSpace(runID)

	if p.mode == domain.DeploymentLocal {
		return p.checkLocal(localDir)
	}

	var prefix string
	switch p.mode {
	case domain.DeploymentRemoteStore:
		prefix = p.storePrefix
	case domain.DeploymentRemoteTracked:
		if runID == "" {
			return domain.ArtifactSet{}, errors.New("run id is required")
		}
		if _, err := runCacheDir("", runID); err != nil {
			return domain.ArtifactSet{}, err
		}
		name, err := p.resolveExperimentName(ctx)
		if err != nil {
			return domain.ArtifactSet{}, err
		}
		prefix = domain.TrackedPrefix(name, runID)
	}

	set := domain.ArtifactSet{Mode: p.mode, RunID: runID, Prefix: prefix}
	for _, name := range domain.ArtifactNames {
		file := p.files.name(name)
		key := domain.ArtifactKey(prefix, file)
		src := filepath.Join(localDir, file)
		if err := p.upload(ctx, name, src, key); err != nil {
			return domain.ArtifactSet{}, err
		}
		assign(&set, domain.ArtifactLocation{
			Name:        name,
			FileName:    file,
			Bucket:      p.bucket,
			Key:         key,
			Source:      src,
			Destination: "s3://" + p.bucket + "/" + key,
		})
	}
	p.logger.Info("artifacts published", "mode", string(p.mode), "run_id", runID, "prefix", prefix)
	return set, nil
}

func (p *Publisher) checkLocal(dir string) (domain.ArtifactSet, error) {
	set := domain.ArtifactSet{Mode: domain.DeploymentLocal}
	for _, name := range domain.ArtifactNames {
		file := p.files.name(name)
		path := filepath.Join(dir, file)
		assign(&set, domain.ArtifactLocation{Name: name, FileName: file, Source: path, Destination: path})
	}
	if _, err := inspect(set); err != nil {
		return domain.ArtifactSet{}, err
	}
	p.logger.Info("local artifacts present", "dir", dir)
	return set, nil
}

func (p *Publisher) upload(ctx context.Context, name domain.ArtifactName, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.ArtifactMissingError{Artifact: name, Location: src, Err: err}
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !fi.Mode().IsRegular() {
		return &domain.ArtifactMissingError{Artifact: name, Location: src, Err: errNotRegular}
	}
	if err := p.store.Put(ctx, p.bucket, key, f, fi.Size(), artifactContentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) resolveExperimentName(ctx context.Context) (string, error) {
	if p.experimentName != "" {
		return p.experimentName, nil
	}
	exp, err := p.experiments.GetExperiment(ctx, p.experimentID)
	if err != nil {
		return "", fmt.Errorf("resolve experiment name: %w", err)
	}
	if strings.TrimSpace(exp.Name) == "" {
		return "", fmt.Errorf("experiment %s has no name", p.experimentID)
	}
	p.experimentName = strings.TrimSpace(exp.Name)
	return p.experimentName, nil
}
