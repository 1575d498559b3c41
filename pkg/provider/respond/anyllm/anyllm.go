// Package anyllm provides a universal response provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/earshot-ai/earshot/pkg/provider/respond"
)

// Spoken replies should be short; this cap keeps a runaway generation from
// turning into a minute of synthesised speech.
const defaultMaxTokens = 256

// Provider implements respond.Provider by wrapping
// github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
}

var _ respond.Provider = (*Provider)(nil)

// ProviderOption configures a Provider beyond the backend options.
type ProviderOption func(*Provider)

// WithTemperature sets the sampling temperature. Zero leaves the backend
// default in place.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) { p.temperature = t }
}

// WithMaxTokens caps the reply length. Defaults to 256, sized for speech.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o-mini",
// "claude-3-5-haiku-latest").
//
// backendOpts are any-llm-go configuration options (e.g.,
// anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key option the
// backend falls back to its environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, and so on).
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...ProviderOption) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	p := &Provider{backend: backend, model: model, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, backendOpts []anyllmlib.Option, opts ...ProviderOption) (*Provider, error) {
	return New("openai", model, backendOpts, opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, backendOpts []anyllmlib.Option, opts ...ProviderOption) (*Provider, error) {
	return New("anthropic", model, backendOpts, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, backendOpts []anyllmlib.Option, opts ...ProviderOption) (*Provider, error) {
	return New("ollama", model, backendOpts, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Respond implements respond.Provider.
func (p *Provider) Respond(ctx context.Context, transcript string, conv respond.Conversation) (string, error) {
	params := p.buildParams(transcript, conv)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if reply == "" {
		return "", fmt.Errorf("anyllm: empty reply content")
	}
	return reply, nil
}

// buildParams converts the conversation into anyllm CompletionParams.
func (p *Provider) buildParams(transcript string, conv respond.Conversation) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if conv.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: conv.SystemPrompt,
		})
	}
	for _, e := range conv.History {
		messages = append(messages,
			anyllmlib.Message{Role: anyllmlib.RoleUser, Content: e.Transcript},
			anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: e.Reply},
		)
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: transcript,
	})

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.temperature != 0 {
		t := p.temperature
		params.Temperature = &t
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}
	return params
}
