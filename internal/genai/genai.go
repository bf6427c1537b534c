// Package genai invokes tutoring flows against a generative model backend.
// Every call is validated on the way in and on the way out; a result that
// does not satisfy the flow's output contract is never returned.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/time/rate"

	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/media"
	"github.com/teecode611-cmyk/studio/internal/metrics"
)

var (
	// ErrBackend wraps transport, quota, and timeout failures of the model call.
	ErrBackend = errors.New("model backend failed")
	// ErrContract marks a model result that violates the flow's output schema.
	ErrContract = errors.New("model result violated output contract")
	// ErrUnsupportedMedia is returned by backends that cannot read an attachment.
	ErrUnsupportedMedia = errors.New("unsupported media for this model backend")
)

// Request is what a Generator receives for one flow invocation.
type Request struct {
	Operation   string
	Description string
	Prompt      string
	Media       []media.DataURI
	// Schema describes the JSON object the generator must produce.
	Schema *jsonschema.Schema
}

// Generator produces a JSON object for a request.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (json.RawMessage, error)

// Name implements Generator.
func (f GeneratorFunc) Name() string { return "func" }

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Options tunes a Client.
type Options struct {
	Timeout           time.Duration
	RequestsPerMinute int
	Prompts           flows.Prompts
	Metrics           *metrics.Collector
	Logger            *slog.Logger
}

// Client invokes flows through a rate-limited Generator.
type Client struct {
	gen     Generator
	limiter *rate.Limiter
	timeout time.Duration
	prompts flows.Prompts
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewClient creates a client. A non-positive RequestsPerMinute disables
// rate limiting.
func NewClient(gen Generator, opts Options) *Client {
	limit, burst := rate.Inf, 1
	if rpm := opts.RequestsPerMinute; rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60.0)
		burst = max(5, rpm/5)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(opts.Logger)
	}
	if opts.Prompts == (flows.Prompts{}) {
		opts.Prompts = flows.DefaultPrompts()
	}
	return &Client{
		gen:     gen,
		limiter: rate.NewLimiter(limit, burst),
		timeout: opts.Timeout,
		prompts: opts.Prompts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Backend names the generator in use.
func (c *Client) Backend() string {
	return c.gen.Name()
}

// Invoke runs flow with input in. Input violations return a
// *flows.ValidationError without calling the model. Backend failures wrap
// ErrBackend and malformed results wrap ErrContract. Nothing is retried.
func Invoke[I, O any](ctx context.Context, c *Client, flow flows.Flow[I, O], in I) (O, error) {
	var zero O

	if err := flow.ValidateInput(in); err != nil {
		c.metrics.RecordFlow(flow.Name, "invalid_input", 0)
		return zero, err
	}

	rendered, err := flow.Render(in, c.prompts)
	if err != nil {
		c.metrics.RecordFlow(flow.Name, "invalid_input", 0)
		return zero, fmt.Errorf("render %s: %w", flow.Name, err)
	}

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordFlow(flow.Name, "backend_error", 0)
		return zero, fmt.Errorf("%s: %w: %w", flow.Name, ErrBackend, err)
	}
	c.metrics.RecordRateLimiterWait(time.Since(waitStart))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.gen.Generate(callCtx, Request{
		Operation:   flow.Name,
		Description: flow.Description,
		Prompt:      rendered.Prompt,
		Media:       rendered.Media,
		Schema:      SchemaFor[O](),
	})
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordFlow(flow.Name, "backend_error", elapsed)
		c.logger.Error("Model call failed", "flow", flow.Name, "backend", c.gen.Name(), "duration", elapsed, "error", err)
		return zero, fmt.Errorf("%s: %w: %w", flow.Name, ErrBackend, err)
	}

	out, err := decode[O](raw)
	if err == nil {
		err = flow.ValidateOutput(out)
	}
	if err != nil {
		c.metrics.RecordFlow(flow.Name, "contract_error", elapsed)
		c.logger.Warn("Model result rejected", "flow", flow.Name, "backend", c.gen.Name(), "error", err)
		return zero, fmt.Errorf("%s: %w: %w", flow.Name, ErrContract, err)
	}

	c.metrics.RecordFlow(flow.Name, "success", elapsed)
	c.logger.Debug("Model call completed", "flow", flow.Name, "backend", c.gen.Name(), "duration", elapsed)
	return out, nil
}

func decode[O any](raw json.RawMessage) (O, error) {
	var out O
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}
