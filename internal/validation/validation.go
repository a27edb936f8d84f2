// Package validation checks production dataset items against a schema
// document and turns the per-dataset results into one verdict.
package validation

import (
	"context"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
)

const defaultItemsPerDataset = 100

// DatasetFailure is one dataset's validation diagnostics.
type DatasetFailure struct {
	DatasetID string `json:"datasetId"`
	Reason    string `json:"reason"`
}

// Outcome aggregates the per-dataset verdicts.
type Outcome struct {
	TotalDatasets    int              `json:"totalDatasets"`
	ValidDatasets    int              `json:"validDatasets"`
	InvalidDatasets  int              `json:"invalidDatasets"`
	NotFoundDatasets int              `json:"notFoundDatasets"`
	Failures         []DatasetFailure `json:"failures,omitempty"`
}

// SuccessRate is the fraction of examined datasets that validated. It is
// only meaningful when TotalDatasets > 0.
func (o Outcome) SuccessRate() float64 {
	if o.TotalDatasets == 0 {
		return 0
	}
	return float64(o.ValidDatasets) / float64(o.TotalDatasets)
}

// Verdict maps the outcome to the stage result: zero examined datasets is
// its own failure, distinct from a non-perfect success rate.
func (o Outcome) Verdict() error {
	if o.TotalDatasets == 0 {
		return errs.Wrap(errs.ErrNoDataFound, "no datasets available for validation")
	}
	if o.ValidDatasets != o.TotalDatasets {
		return errs.Wrapf(errs.ErrValidationFailed,
			"%d of %d datasets failed validation (success rate %.2f)",
			o.TotalDatasets-o.ValidDatasets, o.TotalDatasets, o.SuccessRate())
	}
	return nil
}

// Validator samples datasets and applies the item checks.
type Validator struct {
	Platform        apify.Platform
	Charts          charts.Backend
	ItemsPerDataset int
	Logger          *zap.SugaredLogger
}

// ValidateDatasets examines the given datasets against the schema. Missing
// datasets are counted apart from invalid ones; sampling never aborts the
// sweep.
func (v Validator) ValidateDatasets(ctx context.Context, doc schema.Document, datasetIDs []string) Outcome {
	outcome := Outcome{TotalDatasets: len(datasetIDs)}
	sampleLimit := v.ItemsPerDataset
	if sampleLimit <= 0 {
		sampleLimit = defaultItemsPerDataset
	}

	for _, datasetID := range datasetIDs {
		items, itemsErr := v.Platform.DatasetItems(ctx, datasetID, sampleLimit)
		if itemsErr != nil {
			if errs.Is(itemsErr, errs.ErrNotFound) {
				outcome.NotFoundDatasets++
				outcome.Failures = append(outcome.Failures, DatasetFailure{DatasetID: datasetID, Reason: "dataset not found"})
			} else {
				outcome.InvalidDatasets++
				outcome.Failures = append(outcome.Failures, DatasetFailure{DatasetID: datasetID, Reason: itemsErr.Error()})
			}
			v.logger().Warnw("dataset sampling failed", "dataset", datasetID, "error", itemsErr)
			continue
		}

		diagnostics := CheckItems(doc, items)
		if len(diagnostics) > 0 {
			outcome.InvalidDatasets++
			outcome.Failures = append(outcome.Failures, DatasetFailure{DatasetID: datasetID, Reason: summarizeDiagnostics(diagnostics)})
			v.logger().Warnw("dataset failed schema validation", "dataset", datasetID, "violations", len(diagnostics))
			continue
		}
		outcome.ValidDatasets++
		v.logger().Debugw("dataset validated", "dataset", datasetID, "items", len(items))
	}
	return outcome
}

// ValidateRecent discovers recent production datasets through the charts
// backend and validates them. Query errors abort; zero rows come back as an
// empty outcome whose Verdict reports no data.
func (v Validator) ValidateRecent(ctx context.Context, doc schema.Document, actorName string, window charts.Window, bounds charts.Bounds) (Outcome, error) {
	references, queryErr := v.Charts.RecentDatasets(ctx, actorName, window, bounds)
	if queryErr != nil {
		return Outcome{}, errs.Wrapf(queryErr, "discover validation datasets for %s", actorName)
	}
	datasetIDs := make([]string, 0, len(references))
	for _, reference := range references {
		datasetIDs = append(datasetIDs, reference.ID)
	}
	return v.ValidateDatasets(ctx, doc, datasetIDs), nil
}

func (v Validator) logger() *zap.SugaredLogger {
	if v.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return v.Logger
}
