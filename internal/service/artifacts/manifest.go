package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/google/uuid"
)

// ManifestFile is written next to fetched artifacts.
const ManifestFile = "manifest.json"

// Manifest records which run a cached artifact pair came from.
type Manifest struct {
	Mode      domain.DeploymentMode                 `json:"mode"`
	RunID     string                                `json:"run_id,omitempty"`
	Prefix    string                                `json:"prefix"`
	Artifacts map[domain.ArtifactName]ManifestEntry `json:"artifacts"`
}

type ManifestEntry struct {
	Key    string `json:"key"`
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, "."+ManifestFile+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, ManifestFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Verify re-hashes a materialized pair before it is decoded. Remote pairs
// are also checked against the manifest so that a cache directory rewritten
// by a concurrent fetch for another run is detected.
func Verify(pair domain.LocalArtifactPair) error {
	var m *Manifest
	if pair.Set.Mode.Remote() {
		dir := filepath.Dir(pair.FeatureEngineeringPath)
		loaded, err := ReadManifest(dir)
		if err != nil {
			return &domain.ArtifactCorruptError{Artifact: domain.ArtifactFeatureEngineering, Path: dir, Err: fmt.Errorf("manifest: %w", err)}
		}
		if loaded.RunID != pair.Set.RunID || loaded.Prefix != pair.Set.Prefix {
			return &domain.ArtifactCorruptError{
				Artifact: domain.ArtifactFeatureEngineering,
				Path:     dir,
				Err:      fmt.Errorf("cache holds %q, expected %q", loaded.Prefix, pair.Set.Prefix),
			}
		}
		m = &loaded
	}

	for _, name := range domain.ArtifactNames {
		path := pair.Path(name)
		sum, err := fileSHA256(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, errNotRegular) {
				return &domain.ArtifactMissingError{Artifact: name, Location: path, Err: err}
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if want := digest(pair, name); want != "" && sum != want {
			return &domain.ArtifactCorruptError{Artifact: name, Path: path, Err: errors.New("sha256 mismatch")}
		}
		if m != nil && m.Artifacts[name].SHA256 != sum {
			return &domain.ArtifactCorruptError{Artifact: name, Path: path, Err: errors.New("sha256 does not match manifest")}
		}
	}
	return nil
}
