// Package synthesis turns run datasets or production samples into one draft
// schema document by delegating to the schema generator actor.
package synthesis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
)

// Per generation dataset we sample half the items, capped here. Unknown item
// counts sample the cap alone.
const generationSampleCap = 1000

// How many items to read from the generator's result dataset when looking
// for the schema-shaped one.
const generatorResultLimit = 50

// Synthesizer drives the schema generator actor.
type Synthesizer struct {
	Platform       apify.Platform
	Charts         charts.Backend
	GeneratorActor string
	RunTimeout     time.Duration
	Logger         *zap.SugaredLogger
}

// SampleSynthesis is the production-sampling contract's output: the draft
// plus the datasets consumed and the untouched half reserved for validation.
type SampleSynthesis struct {
	Schema                schema.Document
	DatasetsUsed          []string
	ReservedForValidation []string
}

// FromRunDatasets synthesizes a draft from the variant runs' datasets by
// handing their IDs to the generator actor.
func (s Synthesizer) FromRunDatasets(ctx context.Context, datasetIDs []string) (schema.Document, error) {
	if len(datasetIDs) == 0 {
		return schema.Document{}, errs.New("no dataset handles to synthesize from")
	}
	s.logger().Infow("synthesizing schema from run datasets", "datasets", len(datasetIDs))
	return s.runGenerator(ctx, map[string]any{"datasetIds": datasetIDs})
}

// FromProduction synthesizes a draft from recent production datasets. The
// discovered datasets are split 50/50 at random; only the generation half is
// sampled, and the other half comes back reserved so later validation runs
// against data disjoint from what shaped the schema.
func (s Synthesizer) FromProduction(ctx context.Context, actorName string, window charts.Window, bounds charts.Bounds) (SampleSynthesis, error) {
	references, queryErr := s.Charts.RecentDatasets(ctx, actorName, window, bounds)
	if queryErr != nil {
		return SampleSynthesis{}, errs.Wrapf(queryErr, "discover recent datasets for %s", actorName)
	}
	if len(references) == 0 {
		return SampleSynthesis{}, errs.Wrapf(errs.ErrNoDataFound, "no production datasets for %s in the last %d days", actorName, window.Days)
	}

	generationHalf, validationHalf := SplitDatasets(references)
	s.logger().Infow("production datasets split",
		"total", len(references),
		"generation", len(generationHalf),
		"reserved_for_validation", len(validationHalf))

	sampleItems := make([]map[string]any, 0, len(generationHalf)*8)
	datasetsUsed := make([]string, 0, len(generationHalf))
	for _, reference := range generationHalf {
		items, sampleErr := s.Platform.DatasetItems(ctx, reference.ID, sampleSize(reference.ItemCount))
		if sampleErr != nil {
			s.logger().Warnw("sampling dataset failed, skipping it", "dataset", reference.ID, "error", sampleErr)
			continue
		}
		sampleItems = append(sampleItems, items...)
		datasetsUsed = append(datasetsUsed, reference.ID)
	}
	if len(sampleItems) == 0 {
		return SampleSynthesis{}, errs.Newf("no items sampled from %d generation datasets of %s", len(generationHalf), actorName)
	}

	draft, generateErr := s.runGenerator(ctx, map[string]any{"sampleItems": sampleItems})
	if generateErr != nil {
		return SampleSynthesis{}, generateErr
	}

	reserved := make([]string, 0, len(validationHalf))
	for _, reference := range validationHalf {
		reserved = append(reserved, reference.ID)
	}
	return SampleSynthesis{Schema: draft, DatasetsUsed: datasetsUsed, ReservedForValidation: reserved}, nil
}

// runGenerator runs the generator actor, reads its result dataset, and
// extracts the first schema-shaped item. The three failure modes stay
// distinguishable: generator failed, no items, no schema-shaped item.
func (s Synthesizer) runGenerator(ctx context.Context, generatorInput map[string]any) (schema.Document, error) {
	runResult, runErr := s.Platform.RunActor(ctx, s.GeneratorActor, generatorInput, apify.RunOptions{Timeout: s.RunTimeout})
	if runErr != nil {
		return schema.Document{}, errs.Wrapf(runErr, "schema generator %s run failed", s.GeneratorActor)
	}
	if !runResult.Succeeded() {
		return schema.Document{}, errs.Newf("schema generator %s run %s finished with status %s", s.GeneratorActor, runResult.ID, runResult.Status)
	}

	items, itemsErr := s.Platform.DatasetItems(ctx, runResult.DefaultDatasetID, generatorResultLimit)
	if itemsErr != nil {
		return schema.Document{}, errs.Wrapf(itemsErr, "read schema generator result dataset %s", runResult.DefaultDatasetID)
	}
	if len(items) == 0 {
		return schema.Document{}, errs.Newf("schema generator result dataset %s holds no items", runResult.DefaultDatasetID)
	}

	draft, found := extractDraft(items)
	if !found {
		return schema.Document{}, errs.Newf("schema generator result dataset %s holds no schema-shaped item", runResult.DefaultDatasetID)
	}
	document, normalizeErr := schema.Normalize(draft)
	if normalizeErr != nil {
		return schema.Document{}, errs.Wrap(normalizeErr, "schema generator output")
	}
	return document, nil
}

// extractDraft finds the first item carrying a schema, fields, or properties
// key. A nested "schema" object is unwrapped.
func extractDraft(items []map[string]any) (map[string]any, bool) {
	for _, item := range items {
		if inner, isObject := item["schema"].(map[string]any); isObject {
			return inner, true
		}
		if _, hasFields := item["fields"]; hasFields {
			return item, true
		}
		if _, hasProperties := item["properties"]; hasProperties {
			return item, true
		}
	}
	return nil, false
}

// sampleSize is half the item count rounded up, capped; the cap alone when
// the count is unknown.
func sampleSize(itemCount int) int {
	if itemCount <= 0 {
		return generationSampleCap
	}
	half := (itemCount + 1) / 2
	if half > generationSampleCap {
		return generationSampleCap
	}
	return half
}

func (s Synthesizer) logger() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}
