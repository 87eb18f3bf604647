package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider wraps a gollm.LLM instance and implements Provider. It
// translates between the backend types and gollm's prompt-oriented API.
type GollmProvider struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the default model for the provider.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmProvider creates a GollmProvider for the given provider name.
// If apiKey is empty, gollm reads it from the provider's environment
// variable.
func NewGollmProvider(provider string, apiKey string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := DefaultModel(provider, TierCapable); info != nil {
			model = info.ID
		} else {
			return nil, &ConfigurationError{BackendError: BackendError{
				Message: fmt.Sprintf("no default model known for provider %q", provider),
			}}
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to the Client
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmProvider{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmProviderFromLLM wraps an existing gollm.LLM instance.
func NewGollmProviderFromLLM(provider string, llm gollm.LLM) *GollmProvider {
	return &GollmProvider{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string {
	return p.provider
}

// Initialize validates the adapter's configuration before first use.
func (p *GollmProvider) Initialize() error {
	if p.llm == nil {
		return fmt.Errorf("provider %q has no underlying LLM configured", p.provider)
	}
	if p.model == "" {
		return fmt.Errorf("provider %q has no default model configured", p.provider)
	}
	if info := GetModelInfo(p.model); info != nil && info.Provider != p.provider {
		return fmt.Errorf("model %q belongs to provider %q, not %q", p.model, info.Provider, p.provider)
	}
	return nil
}

// Complete sends a blocking request and returns the full response.
func (p *GollmProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := p.translateRequest(req)
	p.applyRequestOptions(req)

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, p.translateError(err)
	}

	return p.buildResponse(req, text), nil
}

// translateRequest converts a Request into a gollm Prompt. gollm takes one
// prompt string plus a system prompt, so the conversation is rendered as a
// role-tagged transcript.
func (p *GollmProvider) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			prefix := "[Tool Result " + msg.ToolCallID + "]"
			if msg.IsError {
				prefix = "[Tool Error " + msg.ToolCallID + "]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (p *GollmProvider) applyRequestOptions(req Request) {
	if req.Model != "" {
		p.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		p.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		p.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a Response from the generated text. Tool
// directive extraction is the orchestrator's concern, not the provider's;
// the response carries the raw text.
func (p *GollmProvider) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = p.model
	}

	inputTokens := estimateTokens(req)
	return &Response{
		ID:         "resp_" + uuid.New().String()[:8],
		Model:      model,
		Provider:   p.provider,
		Text:       text,
		StopReason: StopReason{Reason: "stop", Raw: "stop"},
		Usage: &Usage{
			// gollm does not expose provider usage; estimate from length.
			InputTokens:  inputTokens,
			OutputTokens: len(text) / 4,
			TotalTokens:  inputTokens + len(text)/4,
		},
	}
}

// translateError converts a gollm error into the backend error hierarchy.
// gollm flattens provider failures into message strings, so classification
// is by content.
func (p *GollmProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	pe := ProviderError{
		BackendError: BackendError{Message: msg, Cause: err},
		Provider:     p.provider,
	}

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") ||
		strings.Contains(msgLower, "invalid key") || strings.Contains(msgLower, "invalid api key") ||
		strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		pe.StatusCode = 401
		return &UnauthorizedError{ProviderError: pe}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		pe.StatusCode = 429
		return &RateLimitError{ProviderError: pe}
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline exceeded"):
		return &TimeoutError{BackendError: BackendError{Message: msg, Cause: err}}
	case strings.Contains(msgLower, "400") || strings.Contains(msgLower, "invalid request") ||
		strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		pe.StatusCode = 400
		return &InvalidRequestError{ProviderError: pe}
	default:
		return &pe
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
