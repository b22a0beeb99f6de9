package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultLiveTag      = "live"
	DefaultCandidateTag = "production_candidate"

	TagTrue  = "1"
	TagFalse = "0"
)

// OrderByEndTimeDesc is the registry ordering used for every tag lookup.
const OrderByEndTimeDesc = "attributes.end_time DESC"

// TagWrite is a single absolute tag assignment on a run.
type TagWrite struct {
	RunID string
	Key   string
	Value string
}

func (w TagWrite) String() string {
	return fmt.Sprintf("%s: %s=%s", w.RunID, w.Key, w.Value)
}

func (w TagWrite) Validate() error {
	if strings.TrimSpace(w.RunID) == "" {
		return fmt.Errorf("tag write: run id is required")
	}
	if strings.TrimSpace(w.Key) == "" {
		return fmt.Errorf("tag write: key is required")
	}
	return nil
}
