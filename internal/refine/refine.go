// Package refine enriches a draft schema through the LLM: descriptions,
// examples, optionally views. The field set must come back unchanged; that
// contract lives in the prompt, not in code, so a drifting response is
// logged and passed through rather than rejected.
package refine

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/llm"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
)

// Oversized input is rejected locally, before any network call.
const (
	maxRequestBytes = 1 << 20
	maxSchemaBytes  = 500 << 10
)

const refinerSystemPrompt = "You polish dataset schema documents for actors on an automation platform. " +
	"You answer with a single JSON document and nothing else."

// Chat is the LLM surface the refiner consumes.
type Chat interface {
	Chat(ctx context.Context, request llm.Request) (llm.Response, error)
}

// Refiner delegates schema enrichment to the LLM.
type Refiner struct {
	Chat   Chat
	Logger *zap.SugaredLogger
}

// Refine sends the draft for enrichment and enforces the response
// postconditions: parseable JSON carrying the actorSpecification marker and
// a fields object.
func (r Refiner) Refine(ctx context.Context, actorName string, draft schema.Document, wantViews bool) (schema.Document, error) {
	if len(draft.Fields) == 0 {
		return schema.Document{}, errs.Wrapf(errs.ErrSchemaShape, "draft schema for %s has no fields to refine", actorName)
	}

	draftJSON, marshalErr := json.MarshalIndent(draft.Artifact(), "", "  ")
	if marshalErr != nil {
		return schema.Document{}, errs.Wrap(marshalErr, "encode draft schema")
	}
	if len(draftJSON) > maxSchemaBytes {
		return schema.Document{}, errs.Wrapf(errs.ErrSchemaShape,
			"draft schema for %s is %d bytes, above the %d byte refinement bound", actorName, len(draftJSON), maxSchemaBytes)
	}

	userPrompt := buildRefinerPrompt(actorName, string(draftJSON), wantViews)
	if len(userPrompt)+len(refinerSystemPrompt) > maxRequestBytes {
		return schema.Document{}, errs.Wrapf(errs.ErrSchemaShape,
			"refinement request for %s is %d bytes, above the %d byte bound", actorName, len(userPrompt)+len(refinerSystemPrompt), maxRequestBytes)
	}

	response, chatErr := r.Chat.Chat(ctx, llm.Request{SystemPrompt: refinerSystemPrompt, UserPrompt: userPrompt})
	if chatErr != nil {
		return schema.Document{}, errs.Wrapf(chatErr, "refine schema for %s", actorName)
	}

	refined, postErr := decodeRefined(actorName, response.RawText)
	if postErr != nil {
		return schema.Document{}, postErr
	}
	if !schema.SameFieldSet(draft, refined) {
		r.logger().Warnw("refined schema changed the field set",
			"actor", actorName,
			"draft_fields", draft.FieldNames(),
			"refined_fields", refined.FieldNames())
	}
	return refined, nil
}

// decodeRefined applies the response postconditions.
func decodeRefined(actorName, rawText string) (schema.Document, error) {
	rawJSON, extractErr := llm.ExtractJSON(rawText)
	if extractErr != nil {
		return schema.Document{}, errs.Wrapf(extractErr, "refiner response for %s", actorName)
	}
	var decoded map[string]any
	if unmarshalErr := json.Unmarshal(rawJSON, &decoded); unmarshalErr != nil {
		return schema.Document{}, errs.Wrapf(unmarshalErr, "refiner response for %s", actorName)
	}
	if _, hasMarker := decoded["actorSpecification"]; !hasMarker {
		return schema.Document{}, errs.Newf("refiner response for %s is missing the actorSpecification marker", actorName)
	}
	if _, isObject := decoded["fields"].(map[string]any); !isObject {
		return schema.Document{}, errs.Newf("refiner response for %s is missing a fields object", actorName)
	}
	return schema.Normalize(decoded)
}

func buildRefinerPrompt(actorName, draftJSON string, wantViews bool) string {
	var sb strings.Builder
	sb.WriteString("Below is the draft dataset schema for the actor ")
	sb.WriteString(actorName)
	sb.WriteString(".\n\n```json\n")
	sb.WriteString(draftJSON)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Improve it:\n")
	sb.WriteString("- add a short description to every field\n")
	sb.WriteString("- add a realistic example value where one helps\n")
	sb.WriteString("- keep the actorSpecification marker and the fields object\n")
	sb.WriteString("- do not add, remove, or rename any field\n")
	if wantViews {
		sb.WriteString("- add a views object with an overview view listing every field as a column\n")
	}
	sb.WriteString("Answer with the complete refined document as JSON.")
	return sb.String()
}

func (r Refiner) logger() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}
