// Package charts talks to the query backend that records which datasets
// recent actor runs produced. The backend is Redash-shaped: a query execution
// either returns rows immediately or hands back a job to poll.
package charts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// Job status codes reported by the backend.
const (
	jobStatusFinished = 3
	jobStatusError    = 4
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultPollMaxAttempts = 60
)

// ErrPollTimeout marks an async query that exhausted its poll budget. It is
// deliberately distinct from a query that the backend reported as failed.
var ErrPollTimeout = errs.New("charts job poll budget exceeded")

// Window bounds how far back the dataset query looks.
type Window struct {
	Days int
}

// Bounds constrains how many rows the query should yield.
type Bounds struct {
	MinResults int
	MaxResults int
}

// DatasetRef is one production dataset surfaced by the query. ItemCount is
// zero when the backend does not know the count.
type DatasetRef struct {
	ID        string
	ItemCount int
}

// Backend is the query surface the pipeline consumes.
type Backend interface {
	RecentDatasets(ctx context.Context, actorName string, window Window, bounds Bounds) ([]DatasetRef, error)
}

// Client is the HTTP implementation of Backend.
type Client struct {
	BaseURL         string
	APIKey          string
	QueryID         int
	HTTPClient      *http.Client
	PollInterval    time.Duration
	PollMaxAttempts int
	Logger          *zap.SugaredLogger
}

// NewClient builds a Client with poll defaults and a nop logger when none is
// supplied.
func NewClient(baseURL, apiKey string, queryID int, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		APIKey:          apiKey,
		QueryID:         queryID,
		PollInterval:    defaultPollInterval,
		PollMaxAttempts: defaultPollMaxAttempts,
		Logger:          logger,
	}
}

type queryEnvelope struct {
	QueryResult *queryResult `json:"query_result"`
	Job         *jobRecord   `json:"job"`
}

type queryResult struct {
	Data struct {
		Rows []map[string]any `json:"rows"`
	} `json:"data"`
}

type jobRecord struct {
	ID            string `json:"id"`
	Status        int    `json:"status"`
	Error         string `json:"error"`
	QueryResultID int64  `json:"query_result_id"`
}

// RecentDatasets executes the configured query for one actor. The immediate
// path reads rows straight off the response; the async path polls the job at
// a fixed interval until it finishes, errors, or the attempt budget runs out.
func (c *Client) RecentDatasets(ctx context.Context, actorName string, window Window, bounds Bounds) ([]DatasetRef, error) {
	requestBody := map[string]any{
		"max_age": 0,
		"parameters": map[string]any{
			"actor_name":  actorName,
			"days":        window.Days,
			"min_results": bounds.MinResults,
			"max_results": bounds.MaxResults,
		},
	}

	var envelope queryEnvelope
	requestPath := fmt.Sprintf("/api/queries/%d/results", c.QueryID)
	if err := c.do(ctx, http.MethodPost, requestPath, requestBody, &envelope); err != nil {
		return nil, errs.Wrapf(err, "execute query %d", c.QueryID)
	}

	if envelope.QueryResult != nil {
		return c.normalizeRows(envelope.QueryResult.Data.Rows, bounds), nil
	}
	if envelope.Job == nil {
		return nil, errs.New("charts response carried neither query_result nor job")
	}

	result, pollErr := c.pollJob(ctx, envelope.Job.ID)
	if pollErr != nil {
		return nil, pollErr
	}
	return c.normalizeRows(result.Data.Rows, bounds), nil
}

func (c *Client) pollJob(ctx context.Context, jobID string) (*queryResult, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := c.PollMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultPollMaxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, errs.Wrapf(ctx.Err(), "polling job %s", jobID)
		case <-time.After(interval):
		}

		var envelope queryEnvelope
		if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, &envelope); err != nil {
			return nil, errs.Wrapf(err, "poll job %s", jobID)
		}
		if envelope.Job == nil {
			return nil, errs.Newf("job %s poll response without job record", jobID)
		}

		switch envelope.Job.Status {
		case jobStatusFinished:
			var resultEnvelope queryEnvelope
			resultPath := fmt.Sprintf("/api/query_results/%d", envelope.Job.QueryResultID)
			if err := c.do(ctx, http.MethodGet, resultPath, nil, &resultEnvelope); err != nil {
				return nil, errs.Wrapf(err, "fetch query result %d", envelope.Job.QueryResultID)
			}
			if resultEnvelope.QueryResult == nil {
				return nil, errs.Newf("query result %d missing from response", envelope.Job.QueryResultID)
			}
			return resultEnvelope.QueryResult, nil
		case jobStatusError:
			return nil, errs.Newf("charts job %s failed: %s", jobID, envelope.Job.Error)
		}
		c.Logger.Debugw("charts job still running", "job_id", jobID, "attempt", attempt, "status", envelope.Job.Status)
	}
	return nil, errs.Wrapf(ErrPollTimeout, "job %s after %d attempts", jobID, maxAttempts)
}

// normalizeRows maps raw rows to DatasetRefs, accepting the dataset ID under
// any of its historical column names. Rows without one are skipped.
func (c *Client) normalizeRows(rows []map[string]any, bounds Bounds) []DatasetRef {
	references := make([]DatasetRef, 0, len(rows))
	for _, row := range rows {
		datasetID := firstStringValue(row, "dataset_id", "datasetId", "defaultDatasetId")
		if datasetID == "" {
			c.Logger.Warnw("charts row without a dataset ID column", "row", row)
			continue
		}
		references = append(references, DatasetRef{ID: datasetID, ItemCount: firstIntValue(row, "itemCount", "item_count")})
	}
	if bounds.MaxResults > 0 && len(references) > bounds.MaxResults {
		references = references[:bounds.MaxResults]
	}
	return references
}

func firstStringValue(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, present := row[key]; present {
			if text, isString := value.(string); isString && text != "" {
				return text
			}
		}
	}
	return ""
}

func firstIntValue(row map[string]any, keys ...string) int {
	for _, key := range keys {
		switch value := row[key].(type) {
		case float64:
			return int(value)
		case int:
			return value
		}
	}
	return 0
}

func (c *Client) do(ctx context.Context, method, requestPath string, body any, target any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return marshalErr
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpRequest, buildErr := http.NewRequestWithContext(ctx, method, c.BaseURL+requestPath, bodyReader)
	if buildErr != nil {
		return buildErr
	}
	httpRequest.Header.Set("Authorization", "Key "+c.APIKey)
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpResponse, httpErr := httpClient.Do(httpRequest)
	if httpErr != nil {
		return httpErr
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return readErr
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		preview := string(bodyBytes)
		if len(preview) > 512 {
			preview = preview[:512] + "…"
		}
		return errs.Newf("charts http error %d: %s", httpResponse.StatusCode, preview)
	}
	return json.Unmarshal(bodyBytes, target)
}
