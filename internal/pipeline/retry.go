package pipeline

import (
	"context"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/inputs"
)

// maxGenerationAttempts bounds the generate/validate retry loop.
const maxGenerationAttempts = 3

type generationState int

const (
	stateGenerate generationState = iota
	stateValidate
	stateAccept
	stateExhausted
)

// generationLoop is the retry state machine. The attempt counter and the
// critique carried into the next generation are explicit state; exhaustion
// is a terminal state reached when the counter hits the budget, not an
// emergent property of loop shape.
type generationLoop struct {
	state    generationState
	attempt  int
	critique string
	set      inputs.TestInputSet
	checked  inputs.ValidationResult
}

// generateInputs drives the loop until an input set with enough valid
// variants is produced or the attempt budget runs out. The critique fed into
// each attempt comes from that attempt's predecessor only, never accumulated
// across attempts.
func (c *Controller) generateInputs(ctx context.Context, actorName string) (inputs.TestInputSet, error) {
	loop := generationLoop{state: stateGenerate}
	for {
		switch loop.state {
		case stateGenerate:
			if loop.attempt >= maxGenerationAttempts {
				loop.state = stateExhausted
				continue
			}
			loop.attempt++
			generated, generateErr := c.Inputs.Generate(ctx, actorName, loop.critique)
			if generateErr != nil {
				if ctx.Err() != nil {
					return inputs.TestInputSet{}, generateErr
				}
				// An unusable response spends the attempt like an invalid
				// set does; the critique tells the model what went wrong.
				c.logger().Warnw("input generation attempt failed",
					"attempt", loop.attempt,
					"error", generateErr.Error())
				loop.critique = "The previous response was unusable: " + generateErr.Error() +
					". Return only the JSON document with the four variants."
				continue
			}
			loop.set = generated
			loop.state = stateValidate
		case stateValidate:
			loop.checked = inputs.Validate(loop.set)
			if loop.checked.Acceptable() {
				loop.state = stateAccept
				continue
			}
			loop.critique = inputs.Feedback(loop.checked)
			c.logger().Warnw("input set rejected",
				"attempt", loop.attempt,
				"validVariants", loop.checked.ValidCount)
			loop.state = stateGenerate
		case stateAccept:
			c.logger().Infow("input set accepted",
				"attempt", loop.attempt,
				"validVariants", loop.checked.ValidCount)
			return loop.set, nil
		case stateExhausted:
			return inputs.TestInputSet{}, errs.Wrapf(errs.ErrValidationExhausted,
				"no acceptable input set after %d attempts, last attempt had %d of 4 valid variants",
				maxGenerationAttempts, loop.checked.ValidCount)
		}
	}
}
