package genai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainGenerator drives any langchaingo model with a single forced tool
// whose parameters are the flow's output schema.
type LangChainGenerator struct {
	llm         llms.Model
	name        string
	temperature float64
}

// NewLangChain wraps an existing langchaingo model.
func NewLangChain(name string, llm llms.Model, temperature float64) *LangChainGenerator {
	return &LangChainGenerator{llm: llm, name: name, temperature: temperature}
}

// NewGoogleAI creates a Gemini-backed generator.
func NewGoogleAI(ctx context.Context, apiKey, model string, temperature float64) (*LangChainGenerator, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create googleai client: %w", err)
	}
	return NewLangChain("googleai/"+model, llm, temperature), nil
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(apiKey, model string, temperature float64) (*LangChainGenerator, error) {
	llm, err := openai.New(
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChain("openai/"+model, llm, temperature), nil
}

// Name implements Generator.
func (g *LangChainGenerator) Name() string { return g.name }

// Generate implements Generator.
func (g *LangChainGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	params, err := schemaMap(req.Schema)
	if err != nil {
		return nil, err
	}

	parts := []llms.ContentPart{llms.TextPart(req.Prompt)}
	for _, m := range req.Media {
		parts = append(parts, llms.BinaryPart(m.MIMEType, m.Data))
	}

	tools := []llms.Tool{{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        req.Operation,
			Description: req.Description,
			Parameters:  params,
		},
	}}

	resp, err := g.llm.GenerateContent(ctx,
		[]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}},
		llms.WithTools(tools),
		llms.WithToolChoice("required"),
		llms.WithTemperature(g.temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in model response")
	}

	choice := resp.Choices[0]
	for _, call := range choice.ToolCalls {
		if call.FunctionCall != nil && call.FunctionCall.Name == req.Operation {
			return json.RawMessage(call.FunctionCall.Arguments), nil
		}
	}

	// Some models answer in plain text despite the forced tool.
	return json.RawMessage(ExtractJSON(choice.Content)), nil
}
