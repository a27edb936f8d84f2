// Package pipeline sequences the five stages that take an actor name to a
// schema pull request. The Controller owns stage ordering, the enable/skip
// policy with caller-supplied substitutes, and the input-generation retry
// loop; every side effect lives in an injected collaborator.
package pipeline

// Stage identifies one of the five fixed pipeline stages.
type Stage string

const (
	StageGenerateInputs Stage = "generate-inputs"
	StageRunActor       Stage = "run-actor"
	StageGenerateSchema Stage = "generate-schema"
	StageValidateSchema Stage = "validate-schema"
	StageCreatePR       Stage = "create-pr"
)

// StageOrder is the fixed execution order. Stage N+1 never starts before
// stage N completed or was skipped with a valid substitute.
var StageOrder = []Stage{
	StageGenerateInputs,
	StageRunActor,
	StageGenerateSchema,
	StageValidateSchema,
	StageCreatePR,
}

// Descriptor describes one stage for command-line listings.
type Descriptor struct {
	Stage      Stage
	Summary    string
	Substitute string
}

// Descriptors returns the stage table in execution order.
func Descriptors() []Descriptor {
	return []Descriptor{
		{
			Stage:      StageGenerateInputs,
			Summary:    "generate four test input variants with the LLM and validate them structurally",
			Substitute: "a test input document supplied with --test-inputs",
		},
		{
			Stage:      StageRunActor,
			Summary:    "run the actor once per variant concurrently and collect the result datasets",
			Substitute: "dataset IDs supplied with --dataset-ids",
		},
		{
			Stage:      StageGenerateSchema,
			Summary:    "synthesize a draft schema from run datasets or production samples, then refine it",
			Substitute: "a schema document supplied with --schema",
		},
		{
			Stage:      StageValidateSchema,
			Summary:    "check recent production datasets against the schema, requiring every dataset to pass",
			Substitute: "none; skipping leaves the schema unvalidated",
		},
		{
			Stage:      StageCreatePR,
			Summary:    "commit the schema artifact and metadata patch to a branch and open a pull request",
			Substitute: "none; skipping ends the run after validation",
		},
	}
}

// StageStatus is one progress slot value.
type StageStatus string

const (
	StatusSkipped   StageStatus = "skipped"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// Progress maps every stage to its status. A fresh Progress starts with
// every stage skipped; completed and failed are terminal.
type Progress map[Stage]StageStatus

// NewProgress returns the starting progress with every stage skipped.
func NewProgress() Progress {
	progress := make(Progress, len(StageOrder))
	for _, stage := range StageOrder {
		progress[stage] = StatusSkipped
	}
	return progress
}

// With returns a copy with one stage moved to the given status. A stage
// already completed or failed keeps its status; transitions never regress.
func (p Progress) With(stage Stage, status StageStatus) Progress {
	next := make(Progress, len(p))
	for key, value := range p {
		next[key] = value
	}
	if current, known := next[stage]; known && current != StatusSkipped {
		return next
	}
	next[stage] = status
	return next
}
