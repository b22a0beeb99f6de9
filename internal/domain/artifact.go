package domain

import (
	"fmt"
	"path"
	"strings"
)

// ArtifactName identifies one of the two model components.
type ArtifactName string

const (
	ArtifactFeatureEngineering ArtifactName = "feature_engineering"
	ArtifactClassifier         ArtifactName = "classifier"
)

const (
	DefaultFeatureEngineeringFile = "feature_engineering.joblib"
	DefaultClassifierFile         = "classifier.joblib"
)

// ArtifactNames lists the components in the order they are fetched.
var ArtifactNames = []ArtifactName{ArtifactFeatureEngineering, ArtifactClassifier}

// ArtifactLocation is one resolved artifact: where it comes from and where it
// must end up on local disk. For local resolution Key is empty and Source
// equals Destination.
type ArtifactLocation struct {
	Name        ArtifactName
	FileName    string
	Bucket      string
	Key         string
	Source      string
	Destination string
}

// Remote reports whether the artifact has to be downloaded.
func (l ArtifactLocation) Remote() bool {
	return strings.TrimSpace(l.Key) != ""
}

// ArtifactSet is the resolved pair of model artifacts.
type ArtifactSet struct {
	Mode               DeploymentMode
	RunID              string
	Prefix             string
	FeatureEngineering ArtifactLocation
	Classifier         ArtifactLocation
}

// Locations returns both artifacts in fetch order.
func (s ArtifactSet) Locations() []ArtifactLocation {
	return []ArtifactLocation{s.FeatureEngineering, s.Classifier}
}

// Location returns the artifact with the given name.
func (s ArtifactSet) Location(name ArtifactName) (ArtifactLocation, error) {
	switch name {
	case ArtifactFeatureEngineering:
		return s.FeatureEngineering, nil
	case ArtifactClassifier:
		return s.Classifier, nil
	default:
		return ArtifactLocation{}, fmt.Errorf("unknown artifact %q", name)
	}
}

func (s ArtifactSet) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("invalid deployment mode %q", s.Mode)
	}
	for _, loc := range s.Locations() {
		if strings.TrimSpace(loc.Destination) == "" {
			return fmt.Errorf("%s: destination is required", loc.Name)
		}
		if s.Mode.Remote() && (!loc.Remote() || strings.TrimSpace(loc.Bucket) == "") {
			return fmt.Errorf("%s: bucket and key are required for %s", loc.Name, s.Mode)
		}
	}
	return nil
}

// TrackedPrefix is the store key prefix of a run's artifacts.
func TrackedPrefix(experimentName, runID string) string {
	return path.Join(strings.Trim(experimentName, "/"), runID, "artifacts")
}

// ArtifactKey joins a key prefix and an artifact file name.
func ArtifactKey(prefix, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fileName
	}
	return prefix + "/" + fileName
}

// LocalArtifactPair is a materialized artifact pair ready for decoding.
type LocalArtifactPair struct {
	Set                      ArtifactSet
	FeatureEngineeringPath   string
	ClassifierPath           string
	FeatureEngineeringSHA256 string
	ClassifierSHA256         string
}

// Path returns the local file of the named artifact.
func (p LocalArtifactPair) Path(name ArtifactName) string {
	if name == ArtifactClassifier {
		return p.ClassifierPath
	}
	return p.FeatureEngineeringPath
}
