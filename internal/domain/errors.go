package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrArtifactMissing = errors.New("artifact missing")
	ErrArtifactCorrupt = errors.New("artifact corrupt")
	ErrConfiguration   = errors.New("configuration error")
	ErrPartialPromote  = errors.New("promotion partially applied")
)

// NotFoundError reports a tag query without matches.
type NotFoundError struct {
	ExperimentIDs []string
	Filter        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no run matches %s in experiment %s", e.Filter, strings.Join(e.ExperimentIDs, ","))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ArtifactMissingError reports an artifact absent after fetch.
type ArtifactMissingError struct {
	Artifact ArtifactName
	Location string
	Err      error
}

func (e *ArtifactMissingError) Error() string {
	msg := fmt.Sprintf("%s artifact not available at %s", e.Artifact, e.Location)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtifactMissingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArtifactMissing}
	}
	return []error{ErrArtifactMissing, e.Err}
}

// ArtifactCorruptError reports an artifact that could not be decoded or does
// not match the digest recorded when it was fetched.
type ArtifactCorruptError struct {
	Artifact ArtifactName
	Path     string
	Err      error
}

func (e *ArtifactCorruptError) Error() string {
	return fmt.Sprintf("%s artifact at %s is unusable: %v", e.Artifact, e.Path, e.Err)
}

func (e *ArtifactCorruptError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArtifactCorrupt}
	}
	return []error{ErrArtifactCorrupt, e.Err}
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// PromotionStepError names the tag write that failed and the writes that
// were already applied before it.
type PromotionStepError struct {
	Step    int
	Write   TagWrite
	Applied []TagWrite
	Err     error
}

func (e *PromotionStepError) Error() string {
	return fmt.Sprintf("promotion step %d (%s) failed after %d applied writes: %v", e.Step, e.Write, len(e.Applied), e.Err)
}

func (e *PromotionStepError) Unwrap() []error {
	return []error{ErrPartialPromote, e.Err}
}
