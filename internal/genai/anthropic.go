package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator calls Claude with a forced tool whose input schema is
// the flow's output schema. Audio attachments are not supported.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropic creates a Claude-backed generator.
func NewAnthropic(apiKey, model string, temperature float64) *AnthropicGenerator {
	return &AnthropicGenerator{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   2048,
		temperature: temperature,
	}
}

// Name implements Generator.
func (g *AnthropicGenerator) Name() string { return "anthropic/" + g.model }

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Media)+1)
	for _, m := range req.Media {
		if m.Kind() != "image" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, m.MIMEType)
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(m.MIMEType, base64.StdEncoding.EncodeToString(m.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	response, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Operation,
				Description: anthropic.String(req.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: req.Schema.Properties,
					Required:   req.Schema.Required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Operation},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		switch block := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			if block.Name != req.Operation {
				continue
			}
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("marshal tool input: %w", err)
			}
			return input, nil
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		}
	}
	return json.RawMessage(ExtractJSON(text.String())), nil
}
