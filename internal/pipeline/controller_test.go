package pipeline_test

import (
	"context"
	"strings"
	"testing"

	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/inputs"
	"github.com/apify-store/dataset-schema-super-actor/internal/pipeline"
	"github.com/apify-store/dataset-schema-super-actor/internal/publish"
	"github.com/apify-store/dataset-schema-super-actor/internal/runner"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
	"github.com/apify-store/dataset-schema-super-actor/internal/synthesis"
	"github.com/apify-store/dataset-schema-super-actor/internal/validation"
)

type scriptedGenerator struct {
	sets      []inputs.TestInputSet
	errors    []error
	critiques []string
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, critique string) (inputs.TestInputSet, error) {
	index := len(g.critiques)
	g.critiques = append(g.critiques, critique)
	if index < len(g.errors) && g.errors[index] != nil {
		return inputs.TestInputSet{}, g.errors[index]
	}
	if index < len(g.sets) {
		return g.sets[index], nil
	}
	return inputs.TestInputSet{}, errs.New("generator script exhausted")
}

type stubRunner struct {
	results  []runner.VariantResult
	datasets []string
	runCalls int
	gotSet   inputs.TestInputSet
}

func (r *stubRunner) RunAll(_ context.Context, set inputs.TestInputSet) []runner.VariantResult {
	r.runCalls++
	r.gotSet = set
	return r.results
}

func (r *stubRunner) CollectDatasets(_ context.Context, _ []runner.VariantResult) []string {
	return r.datasets
}

type stubSynthesizer struct {
	fromRuns        schema.Document
	fromRunsErr     error
	production      synthesis.SampleSynthesis
	productionErr   error
	gotDatasetIDs   []string
	runsCalls       int
	productionCalls int
}

func (s *stubSynthesizer) FromRunDatasets(_ context.Context, datasetIDs []string) (schema.Document, error) {
	s.runsCalls++
	s.gotDatasetIDs = datasetIDs
	return s.fromRuns, s.fromRunsErr
}

func (s *stubSynthesizer) FromProduction(_ context.Context, _ string, _ charts.Window, _ charts.Bounds) (synthesis.SampleSynthesis, error) {
	s.productionCalls++
	return s.production, s.productionErr
}

type stubRefiner struct {
	err          error
	calls        int
	gotWantViews bool
}

func (r *stubRefiner) Refine(_ context.Context, _ string, draft schema.Document, wantViews bool) (schema.Document, error) {
	r.calls++
	r.gotWantViews = wantViews
	if r.err != nil {
		return schema.Document{}, r.err
	}
	return draft, nil
}

type stubValidator struct {
	outcome       validation.Outcome
	recentOutcome validation.Outcome
	recentErr     error
	gotDatasetIDs []string
	datasetCalls  int
	recentCalls   int
}

func (v *stubValidator) ValidateDatasets(_ context.Context, _ schema.Document, datasetIDs []string) validation.Outcome {
	v.datasetCalls++
	v.gotDatasetIDs = datasetIDs
	return v.outcome
}

func (v *stubValidator) ValidateRecent(_ context.Context, _ schema.Document, _ string, _ charts.Window, _ charts.Bounds) (validation.Outcome, error) {
	v.recentCalls++
	return v.recentOutcome, v.recentErr
}

type stubPublisher struct {
	result publish.Result
	err    error
	got    publish.Request
	calls  int
}

func (p *stubPublisher) Publish(_ context.Context, request publish.Request) (publish.Result, error) {
	p.calls++
	p.got = request
	if p.err != nil {
		return publish.Result{}, p.err
	}
	return p.result, nil
}

type stubSet struct {
	generator *scriptedGenerator
	runner    *stubRunner
	synthesis *stubSynthesizer
	refiner   *stubRefiner
	validator *stubValidator
	publisher *stubPublisher
}

// newStubSet wires stubs so a fully enabled run succeeds end to end.
func newStubSet(t *testing.T) stubSet {
	t.Helper()
	return stubSet{
		generator: &scriptedGenerator{sets: []inputs.TestInputSet{validSet()}},
		runner: &stubRunner{
			results: []runner.VariantResult{
				{Variant: "minimal", Succeeded: true, RunID: "run-1", DatasetID: "dataset-1"},
				{Variant: "normal", Succeeded: true, RunID: "run-2", DatasetID: "dataset-2"},
				{Variant: "maximal", Succeeded: true, RunID: "run-3", DatasetID: "dataset-3"},
				{Variant: "edge", Succeeded: true, RunID: "run-4", DatasetID: "dataset-4"},
			},
			datasets: []string{"dataset-1", "dataset-2", "dataset-3", "dataset-4"},
		},
		synthesis: &stubSynthesizer{fromRuns: testDocument(t)},
		refiner:   &stubRefiner{},
		validator: &stubValidator{
			outcome:       validation.Outcome{TotalDatasets: 2, ValidDatasets: 2},
			recentOutcome: validation.Outcome{TotalDatasets: 2, ValidDatasets: 2},
		},
		publisher: &stubPublisher{result: publish.Result{
			Branch:            "dataset-schema/demo-scraper-abcd1234",
			PullRequestURL:    "https://github.com/apify-store/actors/pull/7",
			PullRequestNumber: 7,
		}},
	}
}

func (s stubSet) controller() *pipeline.Controller {
	return &pipeline.Controller{
		Inputs:    s.generator,
		Runner:    s.runner,
		Synthesis: s.synthesis,
		Refiner:   s.refiner,
		Validator: s.validator,
		Publisher: s.publisher,
	}
}

func allEnabled() pipeline.Request {
	return pipeline.Request{
		ActorName:      "acme/demo-scraper",
		GenerateInputs: true,
		RunActor:       true,
		GenerateSchema: true,
		ValidateSchema: true,
		CreatePR:       true,
		Repository:     "apify-store/actors",
		RunID:          "11112222-3333-4444-5555-666677778888",
	}
}

func validSet() inputs.TestInputSet {
	return inputs.TestInputSet{Variants: map[string]any{
		"minimal": map[string]any{},
		"normal":  map[string]any{"depth": float64(1)},
		"maximal": map[string]any{"depth": float64(5)},
		"edge":    map[string]any{"depth": float64(-1)},
	}}
}

// setKeepingValid builds a set where only the named variants are objects,
// so validation fails when fewer than two names are given.
func setKeepingValid(valid ...string) inputs.TestInputSet {
	variants := map[string]any{}
	for _, name := range valid {
		variants[name] = map[string]any{}
	}
	return inputs.TestInputSet{Variants: variants}
}

func testDocument(t *testing.T) schema.Document {
	t.Helper()
	doc, parseErr := schema.Parse([]byte(`{
        "type": "object",
        "properties": {
            "title": {"type": "string"},
            "price": {"type": "number"}
        },
        "required": ["title"]
    }`))
	if parseErr != nil {
		t.Fatalf("parse test document: %v", parseErr)
	}
	return doc
}

func assertProgress(t *testing.T, progress pipeline.Progress, expected map[pipeline.Stage]pipeline.StageStatus) {
	t.Helper()
	for stage, status := range expected {
		if progress[stage] != status {
			t.Fatalf("stage %s: got status %q, expected %q", stage, progress[stage], status)
		}
	}
}

func TestRunAllStagesCompleted(t *testing.T) {
	stubs := newStubSet(t)
	request := allEnabled()

	report, runErr := stubs.controller().Run(context.Background(), request)
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if !report.Success {
		t.Fatal("report not marked successful")
	}
	assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
		pipeline.StageGenerateInputs: pipeline.StatusCompleted,
		pipeline.StageRunActor:       pipeline.StatusCompleted,
		pipeline.StageGenerateSchema: pipeline.StatusCompleted,
		pipeline.StageValidateSchema: pipeline.StatusCompleted,
		pipeline.StageCreatePR:       pipeline.StatusCompleted,
	})

	if report.PublishURL != "https://github.com/apify-store/actors/pull/7" {
		t.Fatalf("unexpected publish URL %q", report.PublishURL)
	}
	if stubs.publisher.got.RunID != request.RunID {
		t.Fatalf("publisher got run ID %q", stubs.publisher.got.RunID)
	}
	if stubs.publisher.got.Validation.TotalDatasets != 2 {
		t.Fatalf("validation outcome not threaded into publish request: %+v", stubs.publisher.got.Validation)
	}
	if len(stubs.publisher.got.Schema.Fields) != 2 {
		t.Fatalf("schema not threaded into publish request: %+v", stubs.publisher.got.Schema)
	}
	if got := stubs.synthesis.gotDatasetIDs; len(got) != 4 {
		t.Fatalf("synthesizer got dataset IDs %v", got)
	}
	if report.Artifacts.Reconciliation == nil || report.Artifacts.Reconciliation.SuccessfulRuns != 4 {
		t.Fatalf("reconciliation missing from artifacts: %+v", report.Artifacts.Reconciliation)
	}
	if len(report.Artifacts.SchemaFields) != 2 {
		t.Fatalf("schema fields missing from artifacts: %v", report.Artifacts.SchemaFields)
	}
}

func TestRetryAcceptsOnSecondAttempt(t *testing.T) {
	stubs := newStubSet(t)
	stubs.generator.sets = []inputs.TestInputSet{
		setKeepingValid("minimal"),
		validSet(),
	}

	report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
		ActorName:      "acme/demo-scraper",
		GenerateInputs: true,
	})
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if len(stubs.generator.critiques) != 2 {
		t.Fatalf("expected 2 generation attempts, got %d", len(stubs.generator.critiques))
	}
	if stubs.generator.critiques[0] != "" {
		t.Fatalf("first attempt must carry no critique, got %q", stubs.generator.critiques[0])
	}
	second := stubs.generator.critiques[1]
	if !strings.Contains(second, "- edge:") || strings.Contains(second, "- minimal:") {
		t.Fatalf("second critique must name the failed variants only: %q", second)
	}
	assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
		pipeline.StageGenerateInputs: pipeline.StatusCompleted,
		pipeline.StageRunActor:       pipeline.StatusSkipped,
	})
}

func TestRetryFeedbackIsPerAttempt(t *testing.T) {
	stubs := newStubSet(t)
	stubs.generator.sets = []inputs.TestInputSet{
		setKeepingValid("minimal"),
		setKeepingValid("edge"),
		validSet(),
	}

	_, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
		ActorName:      "acme/demo-scraper",
		GenerateInputs: true,
	})
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}

	critiques := stubs.generator.critiques
	if len(critiques) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(critiques))
	}
	if !strings.Contains(critiques[1], "- edge:") || strings.Contains(critiques[1], "- minimal:") {
		t.Fatalf("attempt 2 critique must reflect attempt 1 only: %q", critiques[1])
	}
	if !strings.Contains(critiques[2], "- minimal:") || strings.Contains(critiques[2], "- edge:") {
		t.Fatalf("attempt 3 critique must reflect attempt 2 only, never accumulate: %q", critiques[2])
	}
}

func TestRetryExhaustedAfterThreeAttempts(t *testing.T) {
	stubs := newStubSet(t)
	stubs.generator.sets = []inputs.TestInputSet{
		setKeepingValid("minimal"),
		setKeepingValid("minimal"),
		setKeepingValid("minimal"),
	}

	report, runErr := stubs.controller().Run(context.Background(), allEnabled())
	if runErr == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errs.Is(runErr, errs.ErrValidationExhausted) {
		t.Fatalf("expected ErrValidationExhausted, got %v", runErr)
	}
	if !strings.Contains(report.Error, "1 of 4 valid variants") {
		t.Fatalf("report error must name the valid count: %q", report.Error)
	}
	if len(stubs.generator.critiques) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(stubs.generator.critiques))
	}
	if stubs.runner.runCalls != 0 {
		t.Fatalf("no actor run may happen after exhaustion, got %d", stubs.runner.runCalls)
	}
	assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
		pipeline.StageGenerateInputs: pipeline.StatusFailed,
		pipeline.StageRunActor:       pipeline.StatusSkipped,
		pipeline.StageGenerateSchema: pipeline.StatusSkipped,
		pipeline.StageValidateSchema: pipeline.StatusSkipped,
		pipeline.StageCreatePR:       pipeline.StatusSkipped,
	})
	if report.FailedStage != pipeline.StageGenerateInputs {
		t.Fatalf("failed stage = %q", report.FailedStage)
	}
}

func TestRetryAbsorbsGeneratorError(t *testing.T) {
	stubs := newStubSet(t)
	stubs.generator.errors = []error{errs.New("response is not JSON")}
	stubs.generator.sets = []inputs.TestInputSet{{}, validSet()}

	report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
		ActorName:      "acme/demo-scraper",
		GenerateInputs: true,
	})
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if !report.Success {
		t.Fatal("run must recover from a single bad generation")
	}
	if len(stubs.generator.critiques) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(stubs.generator.critiques))
	}
	if !strings.Contains(stubs.generator.critiques[1], "response is not JSON") {
		t.Fatalf("second critique must carry the failure: %q", stubs.generator.critiques[1])
	}
}

func TestControllerFailsFastOnRunStage(t *testing.T) {
	stubs := newStubSet(t)
	stubs.runner.results = []runner.VariantResult{
		{Variant: "minimal", ErrorMessage: "boom"},
		{Variant: "normal", ErrorMessage: "boom"},
		{Variant: "maximal", ErrorMessage: "boom"},
		{Variant: "edge", ErrorMessage: "boom"},
	}

	report, runErr := stubs.controller().Run(context.Background(), allEnabled())
	if runErr == nil {
		t.Fatal("expected run stage failure")
	}
	if !strings.Contains(runErr.Error(), "stage run-actor") {
		t.Fatalf("returned error must name the stage: %v", runErr)
	}
	if !strings.HasPrefix(report.Error, "all variant runs failed") {
		t.Fatalf("report error must be the stage's own text: %q", report.Error)
	}
	assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
		pipeline.StageGenerateInputs: pipeline.StatusCompleted,
		pipeline.StageRunActor:       pipeline.StatusFailed,
		pipeline.StageGenerateSchema: pipeline.StatusSkipped,
		pipeline.StageValidateSchema: pipeline.StatusSkipped,
		pipeline.StageCreatePR:       pipeline.StatusSkipped,
	})
	if stubs.synthesis.runsCalls+stubs.synthesis.productionCalls != 0 {
		t.Fatal("synthesis must not run after a failed stage")
	}
	if stubs.publisher.calls != 0 {
		t.Fatal("publisher must not run after a failed stage")
	}
}

func TestMissingPrerequisiteIsConfigurationError(t *testing.T) {
	t.Run("run-actor without inputs", func(t *testing.T) {
		stubs := newStubSet(t)
		report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
			ActorName: "acme/demo-scraper",
			RunActor:  true,
		})
		if !errs.Is(runErr, errs.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", runErr)
		}
		if !strings.Contains(report.Error, "test input set") {
			t.Fatalf("error must name the missing prerequisite: %q", report.Error)
		}
		if report.FailedStage != pipeline.StageRunActor {
			t.Fatalf("failed stage = %q", report.FailedStage)
		}
	})

	t.Run("create-pr without schema", func(t *testing.T) {
		stubs := newStubSet(t)
		report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
			ActorName: "acme/demo-scraper",
			CreatePR:  true,
		})
		if !errs.Is(runErr, errs.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", runErr)
		}
		if !strings.Contains(report.Error, "schema document") {
			t.Fatalf("error must name the missing prerequisite: %q", report.Error)
		}
	})

	t.Run("empty actor name", func(t *testing.T) {
		stubs := newStubSet(t)
		_, runErr := stubs.controller().Run(context.Background(), pipeline.Request{})
		if !errs.Is(runErr, errs.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", runErr)
		}
	})
}

func TestSubstitutesThreadThroughDisabledStages(t *testing.T) {
	t.Run("supplied schema feeds create-pr", func(t *testing.T) {
		stubs := newStubSet(t)
		doc := testDocument(t)
		report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
			ActorName:      "acme/demo-scraper",
			CreatePR:       true,
			SuppliedSchema: &doc,
			Repository:     "apify-store/actors",
		})
		if runErr != nil {
			t.Fatalf("run failed: %v", runErr)
		}
		if stubs.publisher.calls != 1 {
			t.Fatalf("publisher calls = %d", stubs.publisher.calls)
		}
		if len(stubs.publisher.got.Schema.Fields) != 2 {
			t.Fatalf("supplied schema not threaded: %+v", stubs.publisher.got.Schema)
		}
		assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
			pipeline.StageGenerateInputs: pipeline.StatusSkipped,
			pipeline.StageRunActor:       pipeline.StatusSkipped,
			pipeline.StageGenerateSchema: pipeline.StatusSkipped,
			pipeline.StageValidateSchema: pipeline.StatusSkipped,
			pipeline.StageCreatePR:       pipeline.StatusCompleted,
		})
	})

	t.Run("supplied dataset IDs feed synthesis", func(t *testing.T) {
		stubs := newStubSet(t)
		_, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
			ActorName:          "acme/demo-scraper",
			GenerateSchema:     true,
			SuppliedDatasetIDs: []string{"dataset-a", "dataset-b"},
		})
		if runErr != nil {
			t.Fatalf("run failed: %v", runErr)
		}
		if stubs.synthesis.runsCalls != 1 || stubs.synthesis.productionCalls != 0 {
			t.Fatalf("expected contract A synthesis, got runs=%d production=%d",
				stubs.synthesis.runsCalls, stubs.synthesis.productionCalls)
		}
		if len(stubs.synthesis.gotDatasetIDs) != 2 || stubs.synthesis.gotDatasetIDs[0] != "dataset-a" {
			t.Fatalf("synthesizer got %v", stubs.synthesis.gotDatasetIDs)
		}
	})

	t.Run("supplied inputs feed run-actor", func(t *testing.T) {
		stubs := newStubSet(t)
		supplied := validSet()
		_, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
			ActorName:      "acme/demo-scraper",
			RunActor:       true,
			SuppliedInputs: &supplied,
		})
		if runErr != nil {
			t.Fatalf("run failed: %v", runErr)
		}
		if stubs.runner.runCalls != 1 {
			t.Fatalf("runner calls = %d", stubs.runner.runCalls)
		}
		if stubs.runner.gotSet.ActorID != "acme/demo-scraper" {
			t.Fatalf("actor ID not stamped on supplied inputs: %q", stubs.runner.gotSet.ActorID)
		}
	})
}

func TestReservedDatasetsRouteToValidator(t *testing.T) {
	stubs := newStubSet(t)
	stubs.synthesis.production = synthesis.SampleSynthesis{
		Schema:                testDocument(t),
		DatasetsUsed:          []string{"gen-1", "gen-2"},
		ReservedForValidation: []string{"reserved-1", "reserved-2"},
	}

	report, runErr := stubs.controller().Run(context.Background(), pipeline.Request{
		ActorName:      "acme/demo-scraper",
		GenerateSchema: true,
		ValidateSchema: true,
	})
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if stubs.synthesis.productionCalls != 1 || stubs.synthesis.runsCalls != 0 {
		t.Fatalf("expected contract B synthesis, got runs=%d production=%d",
			stubs.synthesis.runsCalls, stubs.synthesis.productionCalls)
	}
	if stubs.validator.datasetCalls != 1 || stubs.validator.recentCalls != 0 {
		t.Fatalf("expected reserved-dataset validation, got datasets=%d recent=%d",
			stubs.validator.datasetCalls, stubs.validator.recentCalls)
	}
	if len(stubs.validator.gotDatasetIDs) != 2 || stubs.validator.gotDatasetIDs[0] != "reserved-1" {
		t.Fatalf("validator got %v", stubs.validator.gotDatasetIDs)
	}
	if len(report.Artifacts.ReservedIDs) != 2 {
		t.Fatalf("reserved IDs missing from artifacts: %v", report.Artifacts.ReservedIDs)
	}
}

func TestFreshQueryValidationWhenNoReservation(t *testing.T) {
	stubs := newStubSet(t)

	_, runErr := stubs.controller().Run(context.Background(), allEnabled())
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if stubs.validator.recentCalls != 1 || stubs.validator.datasetCalls != 0 {
		t.Fatalf("expected fresh-query validation, got datasets=%d recent=%d",
			stubs.validator.datasetCalls, stubs.validator.recentCalls)
	}
}

func TestValidationVerdictFailsStage(t *testing.T) {
	stubs := newStubSet(t)
	stubs.validator.recentOutcome = validation.Outcome{
		TotalDatasets:   10,
		ValidDatasets:   9,
		InvalidDatasets: 1,
		Failures:        []validation.DatasetFailure{{DatasetID: "dataset-bad", Reason: "missing title"}},
	}

	report, runErr := stubs.controller().Run(context.Background(), allEnabled())
	if !errs.Is(runErr, errs.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", runErr)
	}
	if report.Artifacts.Validation == nil || report.Artifacts.Validation.InvalidDatasets != 1 {
		t.Fatalf("validation outcome must stay in the report: %+v", report.Artifacts.Validation)
	}
	if stubs.publisher.calls != 0 {
		t.Fatal("publisher must not run after a failed validation")
	}
	assertProgress(t, report.Progress, map[pipeline.Stage]pipeline.StageStatus{
		pipeline.StageValidateSchema: pipeline.StatusFailed,
		pipeline.StageCreatePR:       pipeline.StatusSkipped,
	})
}

func TestWantViewsReachesRefinerAndPublisher(t *testing.T) {
	stubs := newStubSet(t)
	request := allEnabled()
	request.WantViews = true

	_, runErr := stubs.controller().Run(context.Background(), request)
	if runErr != nil {
		t.Fatalf("run failed: %v", runErr)
	}
	if !stubs.refiner.gotWantViews {
		t.Fatal("refiner must receive the views request")
	}
	if !stubs.publisher.got.WantViews {
		t.Fatal("publisher must receive the views request")
	}
}
