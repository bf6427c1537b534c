package genai

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/teecode611-cmyk/studio/internal/flows"
)

func staticGenerator(body string, calls *atomic.Int32) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		if calls != nil {
			calls.Add(1)
		}
		return json.RawMessage(body), nil
	})
}

func TestInvokeReturnsValidatedOutput(t *testing.T) {
	var seen Request
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		seen = req
		return json.RawMessage(`{"hint":"What undoes adding 3?"}`), nil
	})
	c := NewClient(gen, Options{})

	out, err := Invoke(context.Background(), c, flows.GetHint, flows.GetHintInput{Question: "Solve 2x + 3 = 7"})
	require.NoError(t, err)
	assert.Equal(t, "What undoes adding 3?", out.Hint)

	assert.Equal(t, "get_hint", seen.Operation)
	require.NotNil(t, seen.Schema)
	assert.Contains(t, seen.Schema.Required, "hint")
	assert.Contains(t, seen.Prompt, "Solve 2x + 3 = 7")
}

func TestInvokeRejectsInvalidInputWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(staticGenerator(`{"question":"q"}`, &calls), Options{})

	_, err := Invoke(context.Background(), c, flows.StartSession, flows.StartSessionInput{})
	var verr *flows.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "problem", verr.Field)
	assert.Zero(t, calls.Load())
}

func TestInvokeContractViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing required field", body: `{"hint":""}`},
		{name: "unknown field", body: `{"hint":"h","answer":"x = 2"}`},
		{name: "not json", body: `Sure! Here is a hint.`},
		{name: "wrong type", body: `{"hint":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(staticGenerator(tt.body, nil), Options{})
			_, err := Invoke(context.Background(), c, flows.GetHint, flows.GetHintInput{Question: "q"})
			assert.ErrorIs(t, err, ErrContract)
			assert.NotErrorIs(t, err, ErrBackend)
		})
	}
}

func TestInvokeBackendFailure(t *testing.T) {
	quota := errors.New("429 resource exhausted")
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		return nil, quota
	})
	c := NewClient(gen, Options{})

	_, err := Invoke(context.Background(), c, flows.Summarize, flows.SummarizeInput{Dialogue: "Student: hi"})
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, quota)
}

func TestInvokeTimeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewClient(gen, Options{Timeout: 20 * time.Millisecond})

	_, err := Invoke(context.Background(), c, flows.Summarize, flows.SummarizeInput{Dialogue: "Student: hi"})
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", input: "Here you go:\n```json\n{\"a\":\"}\"}\n```", want: `{"a":"}"}`},
		{name: "prose around", input: `Result: {"a":{"b":2}} done`, want: `{"a":{"b":2}}`},
		{name: "no object", input: "nothing", want: "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.input))
		})
	}
}

func TestCatalogDescribesEveryFlow(t *testing.T) {
	catalog := Catalog()
	names := make([]string, 0, len(catalog))
	for _, info := range catalog {
		names = append(names, info.Name)
		assert.NotNil(t, info.Input)
		assert.NotNil(t, info.Output)
	}
	assert.Equal(t, []string{"start_session", "continue_session", "get_hint", "summarize", "transcribe"}, names)
}

type fakeModel struct {
	resp     *llms.ContentResponse
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.opts)
	}
	return m.resp, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangChainGeneratorUsesForcedTool(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "get_hint", Arguments: `{"hint":"Look at the constant term."}`},
		}},
	}}}}
	c := NewClient(NewLangChain("fake", model, 0.7), Options{})

	out, err := Invoke(context.Background(), c, flows.GetHint, flows.GetHintInput{Question: "Solve 2x + 3 = 7"})
	require.NoError(t, err)
	assert.Equal(t, "Look at the constant term.", out.Hint)

	require.Len(t, model.opts.Tools, 1)
	assert.Equal(t, "get_hint", model.opts.Tools[0].Function.Name)
	assert.Equal(t, "required", model.opts.ToolChoice)
	require.Len(t, model.messages, 1)
}

func TestLangChainGeneratorFallsBackToText(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "```json\n{\"transcription\":\"x equals two\"}\n```",
	}}}}
	c := NewClient(NewLangChain("fake", model, 0), Options{})

	out, err := Invoke(context.Background(), c, flows.Transcribe, flows.TranscribeInput{AudioDataURI: "data:audio/webm;base64,GkXfow=="})
	require.NoError(t, err)
	assert.Equal(t, "x equals two", out.Transcription)

	parts := model.messages[0].Parts
	require.Len(t, parts, 2)
	bin, ok := parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "audio/webm", bin.MIMEType)
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	_, err := NewGenerator(context.Background(), ProviderConfig{Provider: "nope", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewGenerator(context.Background(), ProviderConfig{Provider: ProviderOpenAI})
	assert.Error(t, err)

	gen, err := NewGenerator(context.Background(), ProviderConfig{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", gen.Name())
}
