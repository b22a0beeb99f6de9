// Package modeltest fits small models for tests that need real artifact
// files.
package modeltest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/model"
)

// Alpha is the additive smoothing Fit uses.
const Alpha = 0.79

// Fit trains a vectorizer and classifier on labelled texts.
func Fit(texts, labels []string) (*model.Model, error) {
	vec := FitVectorizer(texts)
	nb, err := FitBernoulliNB(vec.Transform(texts), labels, vec.Features(), Alpha)
	if err != nil {
		return nil, err
	}
	return &model.Model{Vectorizer: vec, Classifier: nb}, nil
}

// Write fits a model and saves it to pair.
func Write(pair domain.LocalArtifactPair, texts, labels []string) (*model.Model, error) {
	m, err := Fit(texts, labels)
	if err != nil {
		return nil, err
	}
	if err := model.Save(pair, m); err != nil {
		return nil, err
	}
	return m, nil
}

// FitVectorizer builds a vocabulary from docs. Indices follow the sorted
// token order.
func FitVectorizer(docs []string) *model.Vectorizer {
	seen := map[string]struct{}{}
	for _, doc := range docs {
		for _, tok := range model.Tokenize(doc) {
			seen[tok] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	vocab := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = i
	}
	return &model.Vectorizer{Vocabulary: vocab}
}

// FitBernoulliNB estimates the classifier from binary rows as produced by
// model.Vectorizer.Transform. alpha is the additive smoothing parameter.
func FitBernoulliNB(rows [][]int, labels []string, features int, alpha float64) (*model.BernoulliNB, error) {
	if len(rows) == 0 || len(rows) != len(labels) {
		return nil, fmt.Errorf("need matching rows and labels, got %d and %d", len(rows), len(labels))
	}
	if features <= 0 {
		return nil, errors.New("features must be positive")
	}
	if alpha < 0 {
		return nil, errors.New("alpha must not be negative")
	}

	classIndex := map[string]int{}
	for _, label := range labels {
		classIndex[label] = 0
	}
	classes := make([]string, 0, len(classIndex))
	for label := range classIndex {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	for i, c := range classes {
		classIndex[c] = i
	}

	counts := make([]float64, len(classes))
	featureCounts := make([][]float64, len(classes))
	for i := range featureCounts {
		featureCounts[i] = make([]float64, features)
	}
	for i, row := range rows {
		c := classIndex[labels[i]]
		counts[c]++
		for _, j := range row {
			if j < 0 || j >= features {
				return nil, fmt.Errorf("row %d: feature %d out of range", i, j)
			}
			featureCounts[c][j]++
		}
	}

	nb := &model.BernoulliNB{
		Classes:        classes,
		ClassLogPrior:  make([]float64, len(classes)),
		FeatureLogProb: make([][]float64, len(classes)),
	}
	total := float64(len(rows))
	for c := range classes {
		nb.ClassLogPrior[c] = math.Log(counts[c] / total)
		nb.FeatureLogProb[c] = make([]float64, features)
		for j := 0; j < features; j++ {
			p := (featureCounts[c][j] + alpha) / (counts[c] + 2*alpha)
			nb.FeatureLogProb[c][j] = math.Log(p)
		}
	}
	return nb, nil
}
