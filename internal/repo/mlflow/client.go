package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
)

const (
	apiPrefix       = "/api/2.0/mlflow"
	defaultPageSize = 1000
	maxBodyBytes    = 8 << 20
)

// Client talks to an MLflow tracking server over its REST API. Credentials
// embedded in the tracking URI are sent as HTTP basic auth.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client
}

func NewClient(trackingURI string, httpClient *http.Client) (*Client, error) {
	trackingURI = strings.TrimSpace(trackingURI)
	if trackingURI == "" {
		return nil, errors.New("tracking uri is required")
	}
	u, err := url.Parse(strings.TrimRight(trackingURI, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tracking uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tracking uri must be http(s): %q", u.Redacted())
	}
	c := &Client{http: httpClient}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if u.User != nil {
		c.username = u.User.Username()
		c.password, _ = u.User.Password()
		u.User = nil
	}
	c.baseURL = u
	return c, nil
}

func (c *Client) SearchRuns(ctx context.Context, search repo.RunSearch) ([]domain.Run, error) {
	if c == nil {
		return nil, errors.New("mlflow client not initialized")
	}
	if len(search.ExperimentIDs) == 0 {
		return nil, errors.New("at least one experiment id is required")
	}
	req := searchRunsRequest{
		ExperimentIDs: search.ExperimentIDs,
		Filter:        search.Filter,
		OrderBy:       search.OrderBy,
		MaxResults:    defaultPageSize,
	}
	if search.MaxResults > 0 && search.MaxResults < defaultPageSize {
		req.MaxResults = search.MaxResults
	}

	runs := make([]domain.Run, 0)
	for {
		var resp searchRunsResponse
		if err := c.postJSON(ctx, "/runs/search", req, &resp); err != nil {
			return nil, fmt.Errorf("search runs: %w", err)
		}
		for _, r := range resp.Runs {
			runs = append(runs, r.toDomain())
			if search.MaxResults > 0 && len(runs) >= search.MaxResults {
				return runs, nil
			}
		}
		if resp.NextPageToken == "" || len(resp.Runs) == 0 {
			return runs, nil
		}
		req.PageToken = resp.NextPageToken
	}
}

func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	if c == nil {
		return errors.New("mlflow client not initialized")
	}
	w := domain.TagWrite{RunID: runID, Key: key, Value: value}
	if err := w.Validate(); err != nil {
		return err
	}
	if err := c.postJSON(ctx, "/runs/set-tag", setTagRequest{RunID: runID, Key: key, Value: value}, nil); err != nil {
		return fmt.Errorf("set tag %s on %s: %w", key, runID, err)
	}
	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if c == nil {
		return domain.Run{}, errors.New("mlflow client not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, errors.New("run id is required")
	}
	var resp getRunResponse
	if err := c.getJSON(ctx, "/runs/get", url.Values{"run_id": {runID}}, &resp); err != nil {
		return domain.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return resp.Run.toDomain(), nil
}

func (c *Client) GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	if c == nil {
		return domain.Experiment{}, errors.New("mlflow client not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return domain.Experiment{}, errors.New("experiment id is required")
	}
	var resp getExperimentResponse
	if err := c.getJSON(ctx, "/experiments/get", url.Values{"experiment_id": {experimentID}}, &resp); err != nil {
		return domain.Experiment{}, fmt.Errorf("get experiment %s: %w", experimentID, err)
	}
	return domain.Experiment{
		ID:               resp.Experiment.ExperimentID,
		Name:             resp.Experiment.Name,
		ArtifactLocation: resp.Experiment.ArtifactLocation,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(body)
		if resp.StatusCode == http.StatusNotFound || apiErr.ErrorCode == "RESOURCE_DOES_NOT_EXIST" {
			return fmt.Errorf("%s: %w", strings.TrimSpace(apiErr.Message), repo.ErrNotFound)
		}
		return fmt.Errorf("http %s %s: status=%d code=%s body=%s", req.Method, req.URL.Path, resp.StatusCode, apiErr.ErrorCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}
