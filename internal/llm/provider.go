package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bias-runner/internal/resilience"
	"github.com/sells-group/bias-runner/pkg/anthropic"
	"github.com/sells-group/bias-runner/pkg/openrouter"
)

// Provider sends one prompt to one model and returns the completion text.
// A non-2xx response is reported as a *resilience.StatusError; anything else
// is a transport or unexpected error.
type Provider interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Params are the sampling parameters sent with every call.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// DefaultParams matches the settings used for every bias probe.
func DefaultParams() Params {
	return Params{Temperature: 0.1, MaxTokens: 1000}
}

// OpenRouter adapts an OpenRouter chat client to Provider.
type OpenRouter struct {
	client openrouter.Client
	params Params
}

// NewOpenRouter creates an OpenRouter-backed provider.
func NewOpenRouter(client openrouter.Client, params Params) *OpenRouter {
	return &OpenRouter{client: client, params: params}
}

func (p *OpenRouter) Complete(ctx context.Context, model, prompt string) (string, error) {
	temp := p.params.Temperature
	maxTokens := p.params.MaxTokens
	resp, err := p.client.ChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model:       model,
		Messages:    []openrouter.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		var apiErr *openrouter.APIError
		if errors.As(err, &apiErr) {
			return "", resilience.NewStatusError(err, apiErr.StatusCode)
		}
		return "", err
	}
	return resp.Text()
}

// Anthropic adapts the Anthropic SDK client to Provider.
type Anthropic struct {
	client anthropic.Client
	params Params
}

// NewAnthropic creates an Anthropic-backed provider.
func NewAnthropic(client anthropic.Client, params Params) *Anthropic {
	return &Anthropic{client: client, params: params}
}

func (p *Anthropic) Complete(ctx context.Context, model, prompt string) (string, error) {
	temp := p.params.Temperature
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   int64(p.params.MaxTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); code != 0 {
			return "", resilience.NewStatusError(err, code)
		}
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", eris.New("anthropic: empty response content")
	}
	return resp.Text(), nil
}
