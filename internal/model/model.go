// Package model is the consumer of a materialized artifact pair: a binary
// bag-of-words feature transformer followed by a Bernoulli naive Bayes
// classifier.
package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/animus-labs/modelctl/internal/domain"
)

type Model struct {
	Vectorizer *Vectorizer
	Classifier *BernoulliNB
}

// Load decodes both artifacts of pair. Any decode or consistency failure is
// reported as *domain.ArtifactCorruptError naming the artifact.
func Load(pair domain.LocalArtifactPair) (*Model, error) {
	var vec Vectorizer
	if err := loadArtifact(domain.ArtifactFeatureEngineering, pair.FeatureEngineeringPath, &vec); err != nil {
		return nil, err
	}
	if err := vec.Validate(); err != nil {
		return nil, &domain.ArtifactCorruptError{Artifact: domain.ArtifactFeatureEngineering, Path: pair.FeatureEngineeringPath, Err: err}
	}
	var nb BernoulliNB
	if err := loadArtifact(domain.ArtifactClassifier, pair.ClassifierPath, &nb); err != nil {
		return nil, err
	}
	if err := nb.Validate(); err != nil {
		return nil, &domain.ArtifactCorruptError{Artifact: domain.ArtifactClassifier, Path: pair.ClassifierPath, Err: err}
	}
	if nb.Features() != vec.Features() {
		return nil, &domain.ArtifactCorruptError{
			Artifact: domain.ArtifactClassifier,
			Path:     pair.ClassifierPath,
			Err:      fmt.Errorf("classifier expects %d features, transformer yields %d", nb.Features(), vec.Features()),
		}
	}
	return &Model{Vectorizer: &vec, Classifier: &nb}, nil
}

func loadArtifact(name domain.ArtifactName, path string, v any) error {
	if err := readFile(path, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.ArtifactMissingError{Artifact: name, Location: path, Err: err}
		}
		return &domain.ArtifactCorruptError{Artifact: name, Path: path, Err: err}
	}
	return nil
}

// Save writes both components to the paths of pair, the inverse of Load.
func Save(pair domain.LocalArtifactPair, m *Model) error {
	if m == nil || m.Vectorizer == nil || m.Classifier == nil {
		return errors.New("model is incomplete")
	}
	if pair.FeatureEngineeringPath == "" || pair.ClassifierPath == "" {
		return errors.New("both artifact paths are required")
	}
	if err := writeFile(pair.FeatureEngineeringPath, m.Vectorizer); err != nil {
		return fmt.Errorf("save %s: %w", domain.ArtifactFeatureEngineering, err)
	}
	if err := writeFile(pair.ClassifierPath, m.Classifier); err != nil {
		return fmt.Errorf("save %s: %w", domain.ArtifactClassifier, err)
	}
	return nil
}

// Predict transforms texts and classifies them.
func (m *Model) Predict(texts []string) ([]string, error) {
	if m == nil || m.Vectorizer == nil || m.Classifier == nil {
		return nil, errors.New("model not loaded")
	}
	return m.Classifier.Predict(m.Vectorizer.Transform(texts)), nil
}
