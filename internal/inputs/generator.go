package inputs

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/llm"
)

const generatorSystemPrompt = "You design test inputs for actors on an automation platform. " +
	"You answer with a single JSON object and nothing else."

// Chat is the LLM surface the generator consumes.
type Chat interface {
	Chat(ctx context.Context, request llm.Request) (llm.Response, error)
}

// Generator asks the LLM for a four-variant test input set, grounding the
// prompt in the actor's own metadata.
type Generator struct {
	Chat     Chat
	Platform apify.Platform
	Logger   *zap.SugaredLogger
}

// Generate produces one candidate set. A non-empty critique from a previous
// attempt's validation is appended to the prompt as explicit instructions.
func (g Generator) Generate(ctx context.Context, actorID, critique string) (TestInputSet, error) {
	detail, detailErr := g.Platform.GetActor(ctx, actorID)
	if detailErr != nil {
		g.logger().Warnw("actor detail unavailable, prompting with the identifier only", "actor", actorID, "error", detailErr)
		detail = apify.ActorDetail{Name: actorID}
	}

	response, chatErr := g.Chat.Chat(ctx, llm.Request{
		SystemPrompt: generatorSystemPrompt,
		UserPrompt:   buildGeneratorPrompt(detail, critique),
	})
	if chatErr != nil {
		return TestInputSet{}, errs.Wrapf(chatErr, "generate test inputs for %s", actorID)
	}

	rawJSON, extractErr := llm.ExtractJSON(response.RawText)
	if extractErr != nil {
		return TestInputSet{}, errs.Wrapf(extractErr, "test input response for %s", actorID)
	}
	set, parseErr := ParseSet(rawJSON, actorID)
	if parseErr != nil {
		return TestInputSet{}, parseErr
	}
	g.logger().Debugw("test inputs generated", "actor", actorID, "variants", len(set.Variants))
	return set, nil
}

func buildGeneratorPrompt(detail apify.ActorDetail, critique string) string {
	var sb strings.Builder
	sb.WriteString("Generate four test input variants for the actor ")
	sb.WriteString(detail.Name)
	sb.WriteString(".\n\n")

	if detail.Title != "" {
		sb.WriteString("Title: ")
		sb.WriteString(detail.Title)
		sb.WriteString("\n")
	}
	if detail.Description != "" {
		sb.WriteString("Description: ")
		sb.WriteString(detail.Description)
		sb.WriteString("\n")
	}
	if detail.InputExample != "" {
		sb.WriteString("Example input the actor documents:\n")
		sb.WriteString(detail.InputExample)
		sb.WriteString("\n")
	}

	sb.WriteString("\nVariants:\n")
	sb.WriteString("- minimal: the smallest input that still produces output\n")
	sb.WriteString("- normal: a typical everyday input\n")
	sb.WriteString("- maximal: every option exercised, largest reasonable scope\n")
	sb.WriteString("- edge: unusual but legal values (empty lists, extremes, odd encodings)\n")
	sb.WriteString("\nKeep inputs cheap to run: small limits, few pages, short lists.\n")
	sb.WriteString("Answer with one JSON object of the form ")
	sb.WriteString(`{"variants": {"minimal": {...}, "normal": {...}, "maximal": {...}, "edge": {...}}}.`)

	if trimmed := strings.TrimSpace(critique); trimmed != "" {
		sb.WriteString("\n\nYOUR PREVIOUS ATTEMPT WAS REJECTED:\n")
		sb.WriteString(trimmed)
	}
	return sb.String()
}

func (g Generator) logger() *zap.SugaredLogger {
	if g.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return g.Logger
}
