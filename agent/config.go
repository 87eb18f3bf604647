package agent

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/martinemde/tether/backend"
)

// RetryConfig mirrors backend.RetryPolicy in configuration form.
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelay         float64 `mapstructure:"base_delay"`
	MaxDelay          float64 `mapstructure:"max_delay"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	Jitter            bool    `mapstructure:"jitter"`
}

// Policy converts the config into a backend retry policy.
func (rc RetryConfig) Policy() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxAttempts:       rc.MaxAttempts,
		BaseDelay:         rc.BaseDelay,
		MaxDelay:          rc.MaxDelay,
		BackoffMultiplier: rc.BackoffMultiplier,
		Jitter:            rc.Jitter,
	}
}

// Config holds the tunables for a session. Zero values are not usable;
// start from DefaultConfig and override.
type Config struct {
	// Provider is the backend provider name (anthropic, openai, ...).
	Provider string `mapstructure:"provider"`
	// CapableModel serves primary turn requests.
	CapableModel string `mapstructure:"capable_model"`
	// FastModel serves auxiliary work such as context compression.
	FastModel string `mapstructure:"fast_model"`
	// SystemPrompt is the standing instruction prefix, if any.
	SystemPrompt string `mapstructure:"system_prompt"`

	// MaxContextTokens is the token budget for conversation history.
	MaxContextTokens int `mapstructure:"max_context_tokens"`
	// MinTailMessages is how many recent messages compression preserves.
	MinTailMessages int `mapstructure:"min_tail_messages"`
	// MaxToolRounds bounds tool dispatch rounds within a single turn.
	MaxToolRounds int `mapstructure:"max_tool_rounds"`

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64 `mapstructure:"temperature"`
	// MaxResponseTokens caps the model's output per request (0 = default).
	MaxResponseTokens int `mapstructure:"max_response_tokens"`

	Retry RetryConfig `mapstructure:"retry"`

	// DefaultCommandTimeoutMs applies to run_command when the model gives
	// no timeout; MaxCommandTimeoutMs caps whatever the model asks for.
	DefaultCommandTimeoutMs int `mapstructure:"default_command_timeout_ms"`
	MaxCommandTimeoutMs     int `mapstructure:"max_command_timeout_ms"`

	// LoopDetection enables repeated-tool-call detection.
	LoopDetection bool `mapstructure:"loop_detection"`
	// LoopDetectionWindow is how many recent calls the detector inspects.
	LoopDetectionWindow int `mapstructure:"loop_detection_window"`

	// ToolOutputLimits overrides per-tool character caps for folded output.
	ToolOutputLimits map[string]int `mapstructure:"tool_output_limits"`

	// EventBuffer sizes the event channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// DefaultConfig returns a working configuration for an anthropic-backed
// session.
func DefaultConfig() Config {
	return Config{
		Provider:                "anthropic",
		CapableModel:            "claude-sonnet-4-5",
		FastModel:               "claude-haiku-4-5",
		MaxContextTokens:        32000,
		MinTailMessages:         4,
		MaxToolRounds:           8,
		Retry:                   RetryConfig{MaxAttempts: 3, BaseDelay: 1.0, MaxDelay: 60.0, BackoffMultiplier: 2.0, Jitter: true},
		DefaultCommandTimeoutMs: 30000,
		MaxCommandTimeoutMs:     300000,
		LoopDetection:           true,
		LoopDetectionWindow:     6,
		EventBuffer:             128,
	}
}

// Validate checks the configuration for values that would make the loop
// misbehave. All failures are ConfigError: configuration problems are fatal
// at startup, never retried.
func (c Config) Validate() error {
	if c.CapableModel == "" {
		return configErrorf("capable_model must be set")
	}
	if c.FastModel == "" {
		return configErrorf("fast_model must be set")
	}
	if c.MaxContextTokens <= 0 {
		return configErrorf("max_context_tokens must be positive, got %d", c.MaxContextTokens)
	}
	if c.MinTailMessages < 0 {
		return configErrorf("min_tail_messages must not be negative, got %d", c.MinTailMessages)
	}
	if c.MaxToolRounds <= 0 {
		return configErrorf("max_tool_rounds must be positive, got %d", c.MaxToolRounds)
	}
	if c.Retry.MaxAttempts < 1 {
		return configErrorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.LoopDetection && c.LoopDetectionWindow < 2 {
		return configErrorf("loop_detection_window must be at least 2, got %d", c.LoopDetectionWindow)
	}
	return nil
}

// LoadConfig reads configuration from an optional file plus TETHER_*
// environment variables, layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, configErrorf("reading config file %s: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, configErrorf("decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("provider", d.Provider)
	v.SetDefault("capable_model", d.CapableModel)
	v.SetDefault("fast_model", d.FastModel)
	v.SetDefault("system_prompt", d.SystemPrompt)
	v.SetDefault("max_context_tokens", d.MaxContextTokens)
	v.SetDefault("min_tail_messages", d.MinTailMessages)
	v.SetDefault("max_tool_rounds", d.MaxToolRounds)
	v.SetDefault("max_response_tokens", d.MaxResponseTokens)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("default_command_timeout_ms", d.DefaultCommandTimeoutMs)
	v.SetDefault("max_command_timeout_ms", d.MaxCommandTimeoutMs)
	v.SetDefault("loop_detection", d.LoopDetection)
	v.SetDefault("loop_detection_window", d.LoopDetectionWindow)
	v.SetDefault("event_buffer", d.EventBuffer)
}
