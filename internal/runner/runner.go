// Package runner executes the target actor once per input variant,
// concurrently, and reconciles partial failure.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/inputs"
)

// One successful run out of four is enough: an actor that fails mid-run can
// still emit partial output usable for schema inference.
const minimumSuccessfulRuns = 1

const defaultRunTimeout = 5 * time.Minute

// VariantResult records one variant's run. A failed run may still carry a
// dataset ID.
type VariantResult struct {
	Variant      string `json:"variant"`
	Succeeded    bool   `json:"succeeded"`
	RunID        string `json:"runId,omitempty"`
	DatasetID    string `json:"datasetId,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// Reconciliation is the aggregate verdict over all variant runs.
type Reconciliation struct {
	TotalRuns      int
	SuccessfulRuns int
	OverallSuccess bool
	Summary        string
}

// Runner fans the actor out over the four variants.
type Runner struct {
	Platform apify.Platform
	Timeout  time.Duration
	Logger   *zap.SugaredLogger
}

// RunAll starts all four variant runs concurrently and returns once every
// run has settled (join, not first-to-finish). Results come back in
// canonical variant order; a variant's failure never aborts its siblings.
func (r Runner) RunAll(ctx context.Context, set inputs.TestInputSet) []VariantResult {
	normalized := set.Normalized()
	results := make([]VariantResult, len(inputs.VariantOrder))

	var group errgroup.Group
	for index, name := range inputs.VariantOrder {
		index, name := index, name
		variantInput, _ := normalized.Variant(name)
		group.Go(func() error {
			results[index] = r.runVariant(ctx, normalized.ActorID, name, variantInput)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func (r Runner) runVariant(ctx context.Context, actorID, variant string, variantInput map[string]any) (result VariantResult) {
	result = VariantResult{Variant: variant}
	defer func() {
		if panicked := recover(); panicked != nil {
			result.Succeeded = false
			result.ErrorMessage = fmt.Sprintf("panic: %v", panicked)
			r.logger().Errorw("variant run panicked", "variant", variant, "panic", panicked)
		}
	}()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runResult, runErr := r.Platform.RunActor(runCtx, actorID, variantInput, apify.RunOptions{Timeout: timeout})
	if runErr != nil {
		result.ErrorMessage = runErr.Error()
		r.logger().Warnw("variant run failed", "variant", variant, "actor", actorID, "error", runErr)
		return result
	}

	result.RunID = runResult.ID
	result.DatasetID = runResult.DefaultDatasetID
	result.Succeeded = runResult.Succeeded()
	if !result.Succeeded {
		result.ErrorMessage = fmt.Sprintf("run finished with status %s", runResult.Status)
		r.logger().Warnw("variant run did not succeed", "variant", variant, "run_id", runResult.ID, "status", runResult.Status)
	} else {
		r.logger().Infow("variant run succeeded", "variant", variant, "run_id", runResult.ID, "dataset_id", runResult.DefaultDatasetID)
	}
	return result
}

// Reconcile derives the overall verdict: at least one successful run carries
// the pipeline forward.
func Reconcile(results []VariantResult) Reconciliation {
	reconciliation := Reconciliation{TotalRuns: len(results)}
	failed := make([]string, 0, len(results))
	for _, result := range results {
		if result.Succeeded {
			reconciliation.SuccessfulRuns++
		} else {
			failed = append(failed, result.Variant)
		}
	}
	reconciliation.OverallSuccess = reconciliation.SuccessfulRuns >= minimumSuccessfulRuns

	summary := fmt.Sprintf("%d/%d variant runs succeeded", reconciliation.SuccessfulRuns, reconciliation.TotalRuns)
	if len(failed) > 0 {
		summary += fmt.Sprintf(" (failed: %s)", strings.Join(failed, ", "))
	}
	reconciliation.Summary = summary
	return reconciliation
}

// CollectDatasets gathers dataset IDs from every result that has one,
// including failed runs. A failed run without a dataset ID on its first
// observation is re-queried through its terminal run record, because the
// platform does not always attach the dataset to the initial response.
func (r Runner) CollectDatasets(ctx context.Context, results []VariantResult) []string {
	seen := map[string]bool{}
	datasets := make([]string, 0, len(results))
	for _, result := range results {
		datasetID := result.DatasetID
		if datasetID == "" && result.RunID != "" {
			terminal, getErr := r.Platform.GetRun(ctx, result.RunID)
			if getErr != nil {
				r.logger().Warnw("run re-query failed", "variant", result.Variant, "run_id", result.RunID, "error", getErr)
				continue
			}
			datasetID = terminal.DefaultDatasetID
		}
		if datasetID == "" || seen[datasetID] {
			continue
		}
		seen[datasetID] = true
		datasets = append(datasets, datasetID)
	}
	return datasets
}

func (r Runner) logger() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}
