package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/handlers"
	"github.com/MegaGrindStone/bfchat/internal/services"
	"gopkg.in/yaml.v3"
)

type provider interface {
	handlers.LLM
	handlers.Summarizer
}

type llmConfig interface {
	name() string
	provider(systemPrompt string, logger *slog.Logger) (provider, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// config is the server configuration. A zero SessionRetention keeps every session; otherwise sessions
// without writes for that long are deleted.
type config struct {
	Port               string        `yaml:"port"`
	DBPath             string        `yaml:"dbPath"`
	LogLevel           string        `yaml:"logLevel"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	SystemPrompt       string        `yaml:"systemPrompt"`
	UploadRawThreshold int           `yaml:"uploadRawThreshold"`
	SummaryMaxTokens   int           `yaml:"summaryMaxTokens"`
	SessionRetention   time.Duration `yaml:"sessionRetention"`
	LLM                llmConfig     `yaml:"llm"`
}

type mockConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Reply         string        `yaml:"reply"`
	Delay         time.Duration `yaml:"delay"`
}

type openAIConfig struct {
	BaseLLMConfig          `yaml:",inline"`
	services.LLMParameters `yaml:",inline"`
	APIKey                 string `yaml:"apiKey"`
	BaseURL                string `yaml:"baseURL"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

const (
	defaultPort            = "8000"
	defaultMockDelay       = 30 * time.Millisecond
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenRouterModel = "openrouter/auto"
)

var defaultAllowedOrigins = []string{"http://localhost:5173"}

func defaultConfig() config {
	return config{
		Port:           defaultPort,
		LogLevel:       "info",
		AllowedOrigins: defaultAllowedOrigins,
		LLM:            &mockConfig{BaseLLMConfig: BaseLLMConfig{Provider: "mock"}, Delay: defaultMockDelay},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port               string         `yaml:"port"`
		DBPath             string         `yaml:"dbPath"`
		LogLevel           string         `yaml:"logLevel"`
		AllowedOrigins     []string       `yaml:"allowedOrigins"`
		SystemPrompt       string         `yaml:"systemPrompt"`
		UploadRawThreshold int            `yaml:"uploadRawThreshold"`
		SummaryMaxTokens   int            `yaml:"summaryMaxTokens"`
		SessionRetention   time.Duration  `yaml:"sessionRetention"`
		LLM                map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = defaultConfig()
	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.AllowedOrigins != nil {
		c.AllowedOrigins = rawConfig.AllowedOrigins
	}
	c.DBPath = rawConfig.DBPath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.UploadRawThreshold = rawConfig.UploadRawThreshold
	c.SummaryMaxTokens = rawConfig.SummaryMaxTokens
	if rawConfig.SessionRetention < 0 {
		return fmt.Errorf("sessionRetention must not be negative")
	}
	c.SessionRetention = rawConfig.SessionRetention

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "mock":
		llm = &mockConfig{Delay: defaultMockDelay}
	case "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c config) handlerOptions() handlers.Options {
	return handlers.Options{
		Provider:           c.LLM.name(),
		UploadRawThreshold: c.UploadRawThreshold,
		SummaryMaxTokens:   c.SummaryMaxTokens,
	}
}

func (m mockConfig) name() string { return "mock" }

func (m mockConfig) provider(string, *slog.Logger) (provider, error) {
	return services.NewMock(m.Reply, m.Delay), nil
}

func (o openAIConfig) name() string { return "openai" }

func (o openAIConfig) provider(systemPrompt string, logger *slog.Logger) (provider, error) {
	model := o.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, model, systemPrompt, o.LLMParameters, logger), nil
}

func (o openRouterConfig) name() string { return "openrouter" }

func (o openRouterConfig) provider(systemPrompt string, logger *slog.Logger) (provider, error) {
	model := o.Model
	if model == "" {
		model = defaultOpenRouterModel
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, model, systemPrompt, logger), nil
}

func (o ollamaConfig) name() string { return "ollama" }

func (o ollamaConfig) provider(systemPrompt string, _ *slog.Logger) (provider, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt)
}

func (a anthropicConfig) name() string { return "anthropic" }

func (a anthropicConfig) provider(systemPrompt string, _ *slog.Logger) (provider, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, a.MaxTokens), nil
}
