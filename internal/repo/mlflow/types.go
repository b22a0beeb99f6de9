package mlflow

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
)

// millis decodes MLflow epoch-millisecond timestamps, which the server emits
// either as JSON numbers or as strings.
type millis int64

func (m *millis) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*m = millis(v)
	return nil
}

func (m millis) time() *time.Time {
	if m <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(m)).UTC()
	return &t
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metric struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

type runInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
	StartTime    millis `json:"start_time"`
	EndTime      millis `json:"end_time"`
	ArtifactURI  string `json:"artifact_uri"`
}

type runData struct {
	Metrics []metric   `json:"metrics"`
	Params  []keyValue `json:"params"`
	Tags    []keyValue `json:"tags"`
}

type run struct {
	Info runInfo `json:"info"`
	Data runData `json:"data"`
}

func (r run) toDomain() domain.Run {
	out := domain.Run{
		ID:           r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		Status:       r.Info.Status,
		EndedAt:      r.Info.EndTime.time(),
		ArtifactURI:  r.Info.ArtifactURI,
		Tags:         make(map[string]string, len(r.Data.Tags)),
		Metrics:      make(map[string]float64, len(r.Data.Metrics)),
		Params:       make(map[string]string, len(r.Data.Params)),
	}
	if started := r.Info.StartTime.time(); started != nil {
		out.StartedAt = *started
	}
	for _, t := range r.Data.Tags {
		out.Tags[t.Key] = t.Value
	}
	for _, m := range r.Data.Metrics {
		out.Metrics[m.Key] = m.Value
	}
	for _, p := range r.Data.Params {
		out.Params[p.Key] = p.Value
	}
	return out
}

type searchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

type searchRunsResponse struct {
	Runs          []run  `json:"runs"`
	NextPageToken string `json:"next_page_token"`
}

type setTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type getRunResponse struct {
	Run run `json:"run"`
}

type experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
}

type getExperimentResponse struct {
	Experiment experiment `json:"experiment"`
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func decodeAPIError(body []byte) apiError {
	var out apiError
	_ = json.Unmarshal(body, &out)
	return out
}
