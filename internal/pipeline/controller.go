package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/inputs"
	"github.com/apify-store/dataset-schema-super-actor/internal/publish"
	"github.com/apify-store/dataset-schema-super-actor/internal/runner"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
	"github.com/apify-store/dataset-schema-super-actor/internal/synthesis"
	"github.com/apify-store/dataset-schema-super-actor/internal/validation"
)

// InputGenerator produces a candidate test input set, optionally steered by
// a critique of the previous attempt.
type InputGenerator interface {
	Generate(ctx context.Context, actorName, critique string) (inputs.TestInputSet, error)
}

// VariantRunner executes the actor over the four variants and collects the
// result datasets.
type VariantRunner interface {
	RunAll(ctx context.Context, set inputs.TestInputSet) []runner.VariantResult
	CollectDatasets(ctx context.Context, results []runner.VariantResult) []string
}

// SchemaSynthesizer builds a draft schema from run datasets or from sampled
// production data.
type SchemaSynthesizer interface {
	FromRunDatasets(ctx context.Context, datasetIDs []string) (schema.Document, error)
	FromProduction(ctx context.Context, actorName string, window charts.Window, bounds charts.Bounds) (synthesis.SampleSynthesis, error)
}

// SchemaRefiner enriches a draft schema without changing its field set.
type SchemaRefiner interface {
	Refine(ctx context.Context, actorName string, draft schema.Document, wantViews bool) (schema.Document, error)
}

// SchemaValidator checks production datasets against a schema document.
type SchemaValidator interface {
	ValidateDatasets(ctx context.Context, doc schema.Document, datasetIDs []string) validation.Outcome
	ValidateRecent(ctx context.Context, doc schema.Document, actorName string, window charts.Window, bounds charts.Bounds) (validation.Outcome, error)
}

// SchemaPublisher turns the final document into a pull request.
type SchemaPublisher interface {
	Publish(ctx context.Context, request publish.Request) (publish.Result, error)
}

// Request configures one pipeline run. It is immutable for the run.
type Request struct {
	// ActorName is the technical name of the target actor.
	ActorName string

	// Per-stage enable flags.
	GenerateInputs bool
	RunActor       bool
	GenerateSchema bool
	ValidateSchema bool
	CreatePR       bool

	// Substitutes for disabled stages.
	SuppliedInputs     *inputs.TestInputSet
	SuppliedDatasetIDs []string
	SuppliedSchema     *schema.Document

	// Production sampling tuning, shared by synthesis and validation.
	Window charts.Window
	Bounds charts.Bounds

	// Publishing target and options.
	Repository string
	BaseBranch string
	WantViews  bool
	DryRun     bool

	// RunID correlates logs, the report, and the branch name suffix.
	RunID string
}

// Artifacts collects the intermediate outputs for the final report.
type Artifacts struct {
	Inputs         *inputs.TestInputSet   `json:"inputs,omitempty"`
	VariantResults []runner.VariantResult `json:"variantResults,omitempty"`
	Reconciliation *runner.Reconciliation `json:"reconciliation,omitempty"`
	DatasetIDs     []string               `json:"datasetIds,omitempty"`
	ReservedIDs    []string               `json:"reservedDatasetIds,omitempty"`
	SchemaFields   []string               `json:"schemaFields,omitempty"`
	Validation     *validation.Outcome    `json:"validation,omitempty"`
	Publish        *publish.Result        `json:"publish,omitempty"`

	// Schema is carried for the caller; the report stores just its field
	// names, the document itself is written as its own artifact file.
	Schema *schema.Document `json:"-"`
}

// Report is the outcome of one pipeline run.
type Report struct {
	RunID       string    `json:"runId,omitempty"`
	ActorName   string    `json:"actorName"`
	Success     bool      `json:"success"`
	FailedStage Stage     `json:"failedStage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Progress    Progress  `json:"progress"`
	Artifacts   Artifacts `json:"artifacts"`
	PublishURL  string    `json:"publishUrl,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Controller owns stage ordering, the skip/substitute policy, and the
// input-generation retry loop. It performs no I/O itself.
type Controller struct {
	Inputs    InputGenerator
	Runner    VariantRunner
	Synthesis SchemaSynthesizer
	Refiner   SchemaRefiner
	Validator SchemaValidator
	Publisher SchemaPublisher
	Logger    *zap.SugaredLogger
}

// Run executes the enabled stages in order, fail-fast. The returned Report
// is populated in both outcomes; stages after a failure stay skipped, and
// the failing stage's own error text is preserved verbatim in the report.
func (c *Controller) Run(ctx context.Context, request Request) (Report, error) {
	report := Report{
		RunID:     request.RunID,
		ActorName: request.ActorName,
		Progress:  NewProgress(),
		StartedAt: time.Now().UTC(),
	}

	runErr := c.runStages(ctx, request, &report)
	report.FinishedAt = time.Now().UTC()
	report.Success = runErr == nil
	if report.Artifacts.Publish != nil {
		report.PublishURL = report.Artifacts.Publish.PullRequestURL
	}
	return report, runErr
}

func (c *Controller) runStages(ctx context.Context, request Request, report *Report) error {
	fail := func(stage Stage, stageErr error) error {
		report.Progress = report.Progress.With(stage, StatusFailed)
		report.FailedStage = stage
		report.Error = stageErr.Error()
		c.logger().Errorw("stage failed", "stage", stage, "error", stageErr.Error())
		return errs.Wrapf(stageErr, "stage %s", stage)
	}

	if strings.TrimSpace(request.ActorName) == "" {
		return fail(StageGenerateInputs, errs.Configurationf("actor name is required"))
	}

	var set *inputs.TestInputSet
	if request.GenerateInputs {
		generated, generateErr := c.generateInputs(ctx, request.ActorName)
		if generateErr != nil {
			return fail(StageGenerateInputs, generateErr)
		}
		normalized := generated.Normalized()
		set = &normalized
		report.Artifacts.Inputs = set
		report.Progress = report.Progress.With(StageGenerateInputs, StatusCompleted)
	} else if request.SuppliedInputs != nil {
		normalized := request.SuppliedInputs.Normalized()
		set = &normalized
		report.Artifacts.Inputs = set
		c.logger().Infow("input generation skipped, using supplied inputs")
	}

	var datasetIDs []string
	if request.RunActor {
		if set == nil {
			return fail(StageRunActor, errs.Configurationf(
				"run-actor needs a test input set: enable generate-inputs or supply one"))
		}
		set.ActorID = request.ActorName
		results := c.Runner.RunAll(ctx, *set)
		report.Artifacts.VariantResults = results
		reconciliation := runner.Reconcile(results)
		report.Artifacts.Reconciliation = &reconciliation
		if !reconciliation.OverallSuccess {
			return fail(StageRunActor, errs.Newf("all variant runs failed: %s", reconciliation.Summary))
		}
		datasetIDs = c.Runner.CollectDatasets(ctx, results)
		report.Artifacts.DatasetIDs = datasetIDs
		report.Progress = report.Progress.With(StageRunActor, StatusCompleted)
		c.logger().Infow("variant runs reconciled",
			"summary", reconciliation.Summary,
			"datasets", len(datasetIDs))
	} else if len(request.SuppliedDatasetIDs) > 0 {
		datasetIDs = request.SuppliedDatasetIDs
		report.Artifacts.DatasetIDs = datasetIDs
		c.logger().Infow("actor runs skipped, using supplied datasets", "datasets", len(datasetIDs))
	}

	var doc *schema.Document
	var reserved []string
	if request.GenerateSchema {
		var draft schema.Document
		if len(datasetIDs) > 0 {
			fromRuns, synthErr := c.Synthesis.FromRunDatasets(ctx, datasetIDs)
			if synthErr != nil {
				return fail(StageGenerateSchema, synthErr)
			}
			draft = fromRuns
		} else {
			sampled, synthErr := c.Synthesis.FromProduction(ctx, request.ActorName, request.Window, request.Bounds)
			if synthErr != nil {
				return fail(StageGenerateSchema, synthErr)
			}
			draft = sampled.Schema
			reserved = sampled.ReservedForValidation
			report.Artifacts.ReservedIDs = reserved
		}

		refined, refineErr := c.Refiner.Refine(ctx, request.ActorName, draft, request.WantViews)
		if refineErr != nil {
			return fail(StageGenerateSchema, refineErr)
		}
		doc = &refined
		report.Artifacts.Schema = doc
		report.Artifacts.SchemaFields = refined.FieldNames()
		report.Progress = report.Progress.With(StageGenerateSchema, StatusCompleted)
	} else if request.SuppliedSchema != nil {
		doc = request.SuppliedSchema
		report.Artifacts.Schema = doc
		report.Artifacts.SchemaFields = doc.FieldNames()
		c.logger().Infow("schema generation skipped, using supplied schema", "fields", len(doc.Fields))
	}

	var outcome *validation.Outcome
	if request.ValidateSchema {
		if doc == nil {
			return fail(StageValidateSchema, errs.Configurationf(
				"validate-schema needs a schema document: enable generate-schema or supply one"))
		}
		var checked validation.Outcome
		if len(reserved) > 0 {
			checked = c.Validator.ValidateDatasets(ctx, *doc, reserved)
		} else {
			fresh, validateErr := c.Validator.ValidateRecent(ctx, *doc, request.ActorName, request.Window, request.Bounds)
			if validateErr != nil {
				return fail(StageValidateSchema, validateErr)
			}
			checked = fresh
		}
		outcome = &checked
		report.Artifacts.Validation = outcome
		if verdictErr := checked.Verdict(); verdictErr != nil {
			return fail(StageValidateSchema, verdictErr)
		}
		report.Progress = report.Progress.With(StageValidateSchema, StatusCompleted)
		c.logger().Infow("schema validated",
			"datasets", checked.TotalDatasets,
			"successRate", checked.SuccessRate())
	}

	if request.CreatePR {
		if doc == nil {
			return fail(StageCreatePR, errs.Configurationf(
				"create-pr needs a schema document: enable generate-schema or supply one"))
		}
		publishRequest := publish.Request{
			Repository: request.Repository,
			BaseBranch: request.BaseBranch,
			ActorName:  request.ActorName,
			Schema:     *doc,
			RunID:      request.RunID,
			WantViews:  request.WantViews,
			DryRun:     request.DryRun,
		}
		if outcome != nil {
			publishRequest.Validation = *outcome
		}
		published, publishErr := c.Publisher.Publish(ctx, publishRequest)
		if publishErr != nil {
			return fail(StageCreatePR, publishErr)
		}
		report.Artifacts.Publish = &published
		report.Progress = report.Progress.With(StageCreatePR, StatusCompleted)
	}

	return nil
}

func (c *Controller) logger() *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop().Sugar()
}
