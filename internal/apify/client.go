// Package apify wraps the actor platform REST API. The pipeline consumes the
// Platform interface; Client talks to the real service and Mem is the
// in-memory twin used by tests.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// Terminal and transient run statuses reported by the platform.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
	StatusRunning   = "RUNNING"
	StatusReady     = "READY"
)

// A waitForFinish request parameter above this is rejected by the platform.
const maxWaitForFinishSeconds = 300

const defaultPollInterval = 2 * time.Second

// RunOptions tunes one actor invocation.
type RunOptions struct {
	Timeout time.Duration
	Build   string
	Memory  int
}

// RunResult is the observable state of one actor run. A FAILED run may still
// carry a dataset ID; downstream dataset collection depends on that.
type RunResult struct {
	ID               string
	Status           string
	DefaultDatasetID string
}

// Finished reports whether the run reached a terminal status.
func (r RunResult) Finished() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// Succeeded reports whether the run finished successfully.
func (r RunResult) Succeeded() bool { return r.Status == StatusSucceeded }

// ActorDetail is the actor metadata used to ground input-generation prompts.
type ActorDetail struct {
	ID           string
	Name         string
	Title        string
	Description  string
	InputExample string
}

// Platform is the actor platform surface the pipeline consumes.
type Platform interface {
	RunActor(ctx context.Context, actorID string, input any, opts RunOptions) (RunResult, error)
	GetRun(ctx context.Context, runID string) (RunResult, error)
	GetActor(ctx context.Context, actorID string) (ActorDetail, error)
	DatasetItems(ctx context.Context, datasetID string, limit int) ([]map[string]any, error)
}

// Client is the HTTP implementation of Platform.
type Client struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Logger       *zap.SugaredLogger
}

// NewClient builds a Client with a nop logger when none is supplied.
func NewClient(baseURL, token string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		PollInterval: defaultPollInterval,
		Logger:       logger,
	}
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type actorEnvelope struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		Title           string `json:"title"`
		Description     string `json:"description"`
		ExampleRunInput struct {
			Body string `json:"body"`
		} `json:"exampleRunInput"`
	} `json:"data"`
}

// RunActor starts the actor and waits for a terminal status. The platform
// caps the synchronous wait; longer waits continue by polling GetRun until
// the context expires.
func (c *Client) RunActor(ctx context.Context, actorID string, input any, opts RunOptions) (RunResult, error) {
	waitSeconds := int(opts.Timeout.Seconds())
	if waitSeconds <= 0 || waitSeconds > maxWaitForFinishSeconds {
		waitSeconds = maxWaitForFinishSeconds
	}

	query := url.Values{}
	query.Set("waitForFinish", fmt.Sprintf("%d", waitSeconds))
	if opts.Build != "" {
		query.Set("build", opts.Build)
	}
	if opts.Memory > 0 {
		query.Set("memory", fmt.Sprintf("%d", opts.Memory))
	}

	requestPath := fmt.Sprintf("/v2/acts/%s/runs?%s", pathSegment(actorID), query.Encode())
	var envelope runEnvelope
	if err := c.do(ctx, http.MethodPost, requestPath, input, &envelope); err != nil {
		return RunResult{}, errs.Wrapf(err, "run actor %s", actorID)
	}

	result := RunResult{ID: envelope.Data.ID, Status: envelope.Data.Status, DefaultDatasetID: envelope.Data.DefaultDatasetID}
	c.Logger.Debugw("actor run started", "actor", actorID, "run_id", result.ID, "status", result.Status)

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for !result.Finished() {
		select {
		case <-ctx.Done():
			return RunResult{}, errs.Wrapf(ctx.Err(), "waiting for run %s", result.ID)
		case <-time.After(interval):
		}
		refreshed, pollErr := c.GetRun(ctx, result.ID)
		if pollErr != nil {
			return RunResult{}, pollErr
		}
		result = refreshed
	}
	return result, nil
}

// GetRun fetches the run's current record; used to re-query a failed run for
// its dataset ID.
func (c *Client) GetRun(ctx context.Context, runID string) (RunResult, error) {
	var envelope runEnvelope
	if err := c.do(ctx, http.MethodGet, "/v2/actor-runs/"+url.PathEscape(runID), nil, &envelope); err != nil {
		return RunResult{}, errs.Wrapf(err, "get run %s", runID)
	}
	return RunResult{ID: envelope.Data.ID, Status: envelope.Data.Status, DefaultDatasetID: envelope.Data.DefaultDatasetID}, nil
}

// GetActor fetches the actor detail document.
func (c *Client) GetActor(ctx context.Context, actorID string) (ActorDetail, error) {
	var envelope actorEnvelope
	if err := c.do(ctx, http.MethodGet, "/v2/acts/"+pathSegment(actorID), nil, &envelope); err != nil {
		return ActorDetail{}, errs.Wrapf(err, "get actor %s", actorID)
	}
	technicalName := envelope.Data.Name
	if envelope.Data.Username != "" {
		technicalName = envelope.Data.Username + "/" + envelope.Data.Name
	}
	return ActorDetail{
		ID:           envelope.Data.ID,
		Name:         technicalName,
		Title:        envelope.Data.Title,
		Description:  envelope.Data.Description,
		InputExample: envelope.Data.ExampleRunInput.Body,
	}, nil
}

// DatasetItems reads up to limit cleaned items from a dataset.
func (c *Client) DatasetItems(ctx context.Context, datasetID string, limit int) ([]map[string]any, error) {
	requestPath := fmt.Sprintf("/v2/datasets/%s/items?clean=true&format=json&limit=%d", url.PathEscape(datasetID), limit)
	var items []map[string]any
	if err := c.do(ctx, http.MethodGet, requestPath, nil, &items); err != nil {
		return nil, errs.Wrapf(err, "dataset %s items", datasetID)
	}
	return items, nil
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
	httpRequest.Header.Set("Authorization", "Bearer "+c.Token)
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

	if httpResponse.StatusCode == http.StatusNotFound {
		return errs.NotFoundf("%s %s returned 404", method, requestPath)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return errs.Newf("apify http error %d: %s", httpResponse.StatusCode, previewBody(bodyBytes))
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return errs.Wrapf(err, "decode response (body=%s)", previewBody(bodyBytes))
	}
	return nil
}

// pathSegment converts a technical actor name to its URL form
// ("acme/demo-scraper" becomes "acme~demo-scraper").
func pathSegment(actorID string) string {
	return url.PathEscape(strings.ReplaceAll(actorID, "/", "~"))
}

func previewBody(body []byte) string {
	preview := string(body)
	if len(preview) > 512 {
		preview = preview[:512] + "…"
	}
	return preview
}
