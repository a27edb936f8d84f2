package llm

import (
	"context"
	"strings"
)

// Request is the transport-independent chat request the pipeline components
// build. Zero-valued tuning fields fall back to the adapter defaults.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	Model        string
}

// Response carries the raw assistant text; callers extract JSON from it with
// ExtractJSON when they expect a structured body.
type Response struct {
	RawText string
}

// Adapter adapts Request to the concrete HTTP client.
type Adapter struct {
	Client              Client
	DefaultModel        string
	DefaultTemp         float64
	DefaultTokens       int
	SupportsTemperature bool
}

func (a Adapter) Chat(ctx context.Context, request Request) (Response, error) {
	model := request.Model
	if strings.TrimSpace(model) == "" {
		model = a.DefaultModel
	}

	completionRequest := ChatCompletionRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: strings.TrimSpace(request.SystemPrompt)},
			{Role: "user", Content: strings.TrimSpace(request.UserPrompt)},
		},
		MaxCompletionTokens: chooseInt(request.MaxTokens, a.DefaultTokens),
	}

	// Several current models only accept their server-side default
	// temperature; sending any value is rejected outright for those.
	if a.SupportsTemperature {
		resolvedTemperature := chooseFloat(request.Temperature, a.DefaultTemp)
		if resolvedTemperature > 0 {
			completionRequest.Temperature = &resolvedTemperature
		}
	}

	rawText, chatErr := a.Client.CreateChatCompletion(ctx, completionRequest)
	if chatErr != nil {
		return Response{}, chatErr
	}
	return Response{RawText: rawText}, nil
}

func chooseInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func chooseFloat(a, b float64) float64 {
	if a > 0 {
		return a
	}
	return b
}
