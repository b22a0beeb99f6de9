package model

import (
	"errors"
	"fmt"
	"math"
)

// BernoulliNB is a naive Bayes classifier over binary features.
type BernoulliNB struct {
	Classes        []string
	ClassLogPrior  []float64
	FeatureLogProb [][]float64
}

func (nb *BernoulliNB) Features() int {
	if nb == nil || len(nb.FeatureLogProb) == 0 {
		return 0
	}
	return len(nb.FeatureLogProb[0])
}

func (nb *BernoulliNB) Validate() error {
	if nb == nil || len(nb.Classes) == 0 {
		return errors.New("classifier has no classes")
	}
	if len(nb.ClassLogPrior) != len(nb.Classes) || len(nb.FeatureLogProb) != len(nb.Classes) {
		return errors.New("classifier parameters do not match its classes")
	}
	n := len(nb.FeatureLogProb[0])
	for c, probs := range nb.FeatureLogProb {
		if len(probs) != n {
			return fmt.Errorf("class %s has %d features, expected %d", nb.Classes[c], len(probs), n)
		}
		for _, lp := range probs {
			if lp > 0 || math.IsNaN(lp) {
				return fmt.Errorf("class %s has an invalid log probability", nb.Classes[c])
			}
		}
	}
	return nil
}

// Predict returns the most likely class for each row.
func (nb *BernoulliNB) Predict(rows [][]int) []string {
	n := nb.Features()
	// Absent features contribute log(1-p); precompute that baseline per class.
	baseline := make([]float64, len(nb.Classes))
	for c, probs := range nb.FeatureLogProb {
		sum := nb.ClassLogPrior[c]
		for _, lp := range probs {
			sum += log1mexp(lp)
		}
		baseline[c] = sum
	}

	out := make([]string, len(rows))
	for i, row := range rows {
		best, bestScore := 0, math.Inf(-1)
		for c, probs := range nb.FeatureLogProb {
			score := baseline[c]
			for _, j := range row {
				if j < 0 || j >= n {
					continue
				}
				score += probs[j] - log1mexp(probs[j])
			}
			if score > bestScore {
				best, bestScore = c, score
			}
		}
		out[i] = nb.Classes[best]
	}
	return out
}

// log1mexp computes log(1 - exp(x)) for x <= 0.
func log1mexp(x float64) float64 {
	if x > -math.Ln2 {
		return math.Log(-math.Expm1(x))
	}
	return math.Log1p(-math.Exp(x))
}
