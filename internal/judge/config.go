package judge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voocel/litellm"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 10 * time.Second
	DefaultWindow  = 10

	maxTokens = 256
)

// Config is the judge section of a monmon configuration file.
type Config struct {
	Provider  string `yaml:"provider" toml:"provider"`       // openai, anthropic, gemini
	Model     string `yaml:"model" toml:"model"`
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env"` // environment variable holding the key
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	Timeout   string `yaml:"timeout" toml:"timeout"`
	Window    int    `yaml:"window" toml:"window"`

	// Redact masks credentials and personal data in prompts: auto (remote
	// models only), always, or never.
	Redact string `yaml:"redact" toml:"redact"`

	// Natural-language conditions. When a list is empty the judge is asked
	// about the rule strings the monitor passes in instead.
	TerminateIf     []string `yaml:"terminate_if" toml:"terminate_if"`
	AskPermissionIf []string `yaml:"ask_permission_if" toml:"ask_permission_if"`
}

func (c Config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("judge: invalid timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

func (c Config) apiKeyEnv() string {
	if c.APIKeyEnv != "" {
		return c.APIKeyEnv
	}
	switch strings.ToLower(c.Provider) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// NewClient builds a litellm-backed Completer for the configured provider.
func NewClient(cfg Config) (Completer, error) {
	key := os.Getenv(cfg.apiKeyEnv())
	if key == "" {
		return nil, fmt.Errorf("judge: %s is not set", cfg.apiKeyEnv())
	}

	llm, err := newLLM(strings.ToLower(cfg.Provider), key, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &client{
		llm:   llm,
		model: model,
	}, nil
}

func newLLM(provider, key, baseURL string) (*litellm.Client, error) {
	switch provider {
	case "anthropic":
		if baseURL != "" {
			return litellm.New(litellm.WithAnthropic(key, baseURL), litellm.WithDefaults(maxTokens, 0)), nil
		}
		return litellm.New(litellm.WithAnthropic(key), litellm.WithDefaults(maxTokens, 0)), nil
	case "gemini":
		if baseURL != "" {
			return litellm.New(litellm.WithGemini(key, baseURL), litellm.WithDefaults(maxTokens, 0)), nil
		}
		return litellm.New(litellm.WithGemini(key), litellm.WithDefaults(maxTokens, 0)), nil
	case "", "openai":
		if baseURL != "" {
			return litellm.New(litellm.WithOpenAI(key, baseURL), litellm.WithDefaults(maxTokens, 0)), nil
		}
		return litellm.New(litellm.WithOpenAI(key), litellm.WithDefaults(maxTokens, 0)), nil
	default:
		return nil, fmt.Errorf("judge: unknown provider %q", provider)
	}
}

type client struct {
	llm   *litellm.Client
	model string
}

func (c *client) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.llm.Chat(ctx, &litellm.Request{
		Model: c.model,
		Messages: []litellm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: litellm.Float64Ptr(0),
		MaxTokens:   litellm.IntPtr(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("judge: completion failed: %w", err)
	}
	return resp.Content, nil
}
