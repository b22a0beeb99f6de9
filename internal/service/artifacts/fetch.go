package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/modelctl/internal/domain"
	store "github.com/animus-labs/modelctl/internal/storage/objectstore"
	"github.com/google/uuid"
)

const storeCacheDir = "store"

type fetcher struct {
	store    store.Store
	bucket   string
	cacheDir string
	files    Files
	logger   *slog.Logger
}

func newFetcher(opts Options) (*fetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("object store is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	cacheDir := strings.TrimSpace(opts.CacheDir)
	if cacheDir == "" {
		return nil, errors.New("cache dir is required")
	}
	return &fetcher{
		store:    opts.Store,
		bucket:   bucket,
		cacheDir: cacheDir,
		files:    opts.Files,
		logger:   opts.Logger,
	}, nil
}

func (f *fetcher) set(mode domain.DeploymentMode, runID, prefix, destDir string) domain.ArtifactSet {
	set := domain.ArtifactSet{Mode: mode, RunID: runID, Prefix: prefix}
	for _, name := range domain.ArtifactNames {
		file := f.files.name(name)
		key := domain.ArtifactKey(prefix, file)
		assign(&set, domain.ArtifactLocation{
			Name:        name,
			FileName:    file,
			Bucket:      f.bucket,
			Key:         key,
			Source:      "s3://" + f.bucket + "/" + key,
			Destination: filepath.Join(destDir, file),
		})
	}
	return set
}

// fetch downloads both artifacts, overwriting whatever the destination held,
// and records their digests in the manifest next to them.
func (f *fetcher) fetch(ctx context.Context, set domain.ArtifactSet) (domain.LocalArtifactPair, error) {
	if err := set.Validate(); err != nil {
		return domain.LocalArtifactPair{}, err
	}
	dir := filepath.Dir(set.FeatureEngineering.Destination)
	if filepath.Dir(set.Classifier.Destination) != dir {
		return domain.LocalArtifactPair{}, errors.New("artifact destinations must share a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.LocalArtifactPair{}, fmt.Errorf("create cache dir: %w", err)
	}

	m := Manifest{Mode: set.Mode, RunID: set.RunID, Prefix: set.Prefix, Artifacts: map[domain.ArtifactName]ManifestEntry{}}
	for _, loc := range set.Locations() {
		entry, err := f.download(ctx, loc)
		if err != nil {
			return domain.LocalArtifactPair{}, err
		}
		m.Artifacts[loc.Name] = entry
	}

	pair, err := inspect(set)
	if err != nil {
		return domain.LocalArtifactPair{}, err
	}
	for _, name := range domain.ArtifactNames {
		if digest(pair, name) != m.Artifacts[name].SHA256 {
			return domain.LocalArtifactPair{}, &domain.ArtifactCorruptError{
				Artifact: name,
				Path:     pair.Path(name),
				Err:      errors.New("content changed during fetch"),
			}
		}
	}
	if err := writeManifest(dir, m); err != nil {
		return domain.LocalArtifactPair{}, err
	}
	f.logger.Info("artifacts fetched", "mode", string(set.Mode), "run_id", set.RunID, "prefix", set.Prefix, "dir", dir)
	return pair, nil
}

func (f *fetcher) download(ctx context.Context, loc domain.ArtifactLocation) (ManifestEntry, error) {
	body, info, err := f.store.Get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ManifestEntry{}, &domain.ArtifactMissingError{Artifact: loc.Name, Location: loc.Source, Err: err}
		}
		return ManifestEntry{}, fmt.Errorf("download %s: %w", loc.Source, err)
	}
	defer body.Close()

	dir := filepath.Dir(loc.Destination)
	tmp := filepath.Join(dir, "."+loc.FileName+"."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), body)
	if err != nil {
		cleanup()
		return ManifestEntry{}, fmt.Errorf("download %s: %w", loc.Source, err)
	}
	if info.Size > 0 && n != info.Size {
		cleanup()
		return ManifestEntry{}, fmt.Errorf("download %s: short read: got %d of %d bytes", loc.Source, n, info.Size)
	}
	if err := out.Sync(); err != nil {
		cleanup()
		return ManifestEntry{}, fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return ManifestEntry{}, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, loc.Destination); err != nil {
		_ = os.Remove(tmp)
		return ManifestEntry{}, fmt.Errorf("replace %s: %w", loc.Destination, err)
	}

	f.logger.Debug("artifact downloaded", "artifact", string(loc.Name), "source", loc.Source, "bytes", n)
	return ManifestEntry{
		Key:    loc.Key,
		File:   loc.FileName,
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   n,
		ETag:   info.ETag,
	}, nil
}

// inspect checks that both destinations exist as regular files and hashes
// them.
func inspect(set domain.ArtifactSet) (domain.LocalArtifactPair, error) {
	pair := domain.LocalArtifactPair{
		Set:                    set,
		FeatureEngineeringPath: set.FeatureEngineering.Destination,
		ClassifierPath:         set.Classifier.Destination,
	}
	for _, loc := range set.Locations() {
		sum, err := fileSHA256(loc.Destination)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, errNotRegular) {
				return domain.LocalArtifactPair{}, &domain.ArtifactMissingError{Artifact: loc.Name, Location: loc.Destination, Err: err}
			}
			return domain.LocalArtifactPair{}, fmt.Errorf("read %s: %w", loc.Destination, err)
		}
		if loc.Name == domain.ArtifactClassifier {
			pair.ClassifierSHA256 = sum
		} else {
			pair.FeatureEngineeringSHA256 = sum
		}
	}
	return pair, nil
}

var errNotRegular = errors.New("not a regular file")

func fileSHA256(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() {
		return "", errNotRegular
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func digest(pair domain.LocalArtifactPair, name domain.ArtifactName) string {
	if name == domain.ArtifactClassifier {
		return pair.ClassifierSHA256
	}
	return pair.FeatureEngineeringSHA256
}
