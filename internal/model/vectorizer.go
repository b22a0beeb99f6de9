package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// tokenPattern keeps runs of two or more word characters.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer turns text into a binary bag-of-words over a fixed vocabulary.
type Vectorizer struct {
	Vocabulary map[string]int
}

// Tokenize lowercases text and splits it into vocabulary tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func (v *Vectorizer) Features() int {
	if v == nil {
		return 0
	}
	return len(v.Vocabulary)
}

func (v *Vectorizer) Validate() error {
	if v == nil || len(v.Vocabulary) == 0 {
		return errors.New("vectorizer has an empty vocabulary")
	}
	n := len(v.Vocabulary)
	for tok, idx := range v.Vocabulary {
		if idx < 0 || idx >= n {
			return fmt.Errorf("token %q has index %d outside [0,%d)", tok, idx, n)
		}
	}
	return nil
}

// Transform returns, per document, the sorted indices of the vocabulary
// tokens it contains. Unknown tokens are ignored.
func (v *Vectorizer) Transform(docs []string) [][]int {
	out := make([][]int, len(docs))
	for i, doc := range docs {
		present := map[int]struct{}{}
		for _, tok := range Tokenize(doc) {
			if idx, ok := v.Vocabulary[tok]; ok {
				present[idx] = struct{}{}
			}
		}
		row := make([]int, 0, len(present))
		for idx := range present {
			row = append(row, idx)
		}
		sort.Ints(row)
		out[i] = row
	}
	return out
}
