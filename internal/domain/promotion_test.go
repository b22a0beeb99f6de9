package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDerivePromotionState(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want PromotionState
	}{
		{name: "untagged", tags: nil, want: PromotionNone},
		{name: "candidate", tags: map[string]string{"live": "0", "production_candidate": "1"}, want: PromotionCandidate},
		{name: "live", tags: map[string]string{"live": "1"}, want: PromotionLive},
		{name: "live wins", tags: map[string]string{"live": "1", "production_candidate": "1"}, want: PromotionLive},
		{name: "retired", tags: map[string]string{"live": "0", "production_candidate": "0"}, want: PromotionRetired},
		{name: "rejected candidate", tags: map[string]string{"production_candidate": "0"}, want: PromotionRetired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DerivePromotionState(Run{ID: "r", Tags: tc.tags}, DefaultLiveTag, DefaultCandidateTag)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEndedAfter(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	older := Run{ID: "old", EndedAt: &t0}
	newer := Run{ID: "new", EndedAt: &t1}
	running := Run{ID: "running", StartedAt: t1}
	if !EndedAfter(newer, older) || EndedAfter(older, newer) {
		t.Fatalf("expected newer run first")
	}
	if !EndedAfter(older, running) || EndedAfter(running, older) {
		t.Fatalf("expected unfinished run last")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &NotFoundError{ExperimentIDs: []string{"2"}, Filter: "tags.live='1'"}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	cause := errors.New("eof")
	err = &ArtifactCorruptError{Artifact: ArtifactClassifier, Path: "/tmp/c", Err: cause}
	if !errors.Is(err, ErrArtifactCorrupt) || !errors.Is(err, cause) {
		t.Fatalf("expected corrupt error to wrap both sentinel and cause")
	}
	err = &ArtifactMissingError{Artifact: ArtifactFeatureEngineering, Location: "x"}
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrArtifactMissing")
	}
	err = &PromotionStepError{Step: 2, Write: TagWrite{RunID: "b", Key: "live", Value: "1"}, Err: cause}
	if !errors.Is(err, ErrPartialPromote) || !errors.Is(err, cause) {
		t.Fatalf("expected partial promotion error to wrap cause")
	}
}
