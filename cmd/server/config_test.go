package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name         string
		yaml         string
		wantErr      bool
		wantProvider string
		check        func(t *testing.T, cfg config)
	}{
		{
			name:         "Defaults without llm",
			yaml:         "port: \"9000\"\n",
			wantProvider: "mock",
			check: func(t *testing.T, cfg config) {
				if cfg.Port != "9000" || cfg.LogLevel != "info" {
					t.Errorf("config = %+v, want port 9000 and info level", cfg)
				}
				if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:5173" {
					t.Errorf("allowed origins = %v, want the default", cfg.AllowedOrigins)
				}
			},
		},
		{
			name: "Mock with reply",
			yaml: "llm:\n  provider: mock\n  reply: hello world\n  delay: 5ms\n",
			check: func(t *testing.T, cfg config) {
				m, ok := cfg.LLM.(*mockConfig)
				if !ok {
					t.Fatalf("llm = %T, want *mockConfig", cfg.LLM)
				}
				if m.Reply != "hello world" || m.Delay != 5*time.Millisecond {
					t.Errorf("mock config = %+v", m)
				}
			},
			wantProvider: "mock",
		},
		{
			name: "OpenAI with parameters",
			yaml: "llm:\n  provider: openai\n  model: gpt-4o\n  apiKey: k\n  temperature: 0.5\n",
			check: func(t *testing.T, cfg config) {
				o, ok := cfg.LLM.(*openAIConfig)
				if !ok {
					t.Fatalf("llm = %T, want *openAIConfig", cfg.LLM)
				}
				if o.Model != "gpt-4o" || o.APIKey != "k" || o.Temperature == nil || *o.Temperature != 0.5 {
					t.Errorf("openai config = %+v", o)
				}
			},
			wantProvider: "openai",
		},
		{
			name:         "OpenRouter",
			yaml:         "llm:\n  provider: openrouter\n  apiKey: k\n",
			wantProvider: "openrouter",
		},
		{
			name:         "Ollama",
			yaml:         "llm:\n  provider: ollama\n  model: llama3\n  host: http://localhost:11434\n",
			wantProvider: "ollama",
		},
		{
			name:         "Anthropic",
			yaml:         "llm:\n  provider: anthropic\n  model: claude\n  maxTokens: 1000\n",
			wantProvider: "anthropic",
		},
		{
			name:         "Session retention",
			yaml:         "sessionRetention: 720h\n",
			wantProvider: "mock",
			check: func(t *testing.T, cfg config) {
				if cfg.SessionRetention != 720*time.Hour {
					t.Errorf("session retention = %v, want 720h", cfg.SessionRetention)
				}
			},
		},
		{
			name:    "Negative session retention",
			yaml:    "sessionRetention: -1h\n",
			wantErr: true,
		},
		{
			name:    "Missing provider",
			yaml:    "llm:\n  model: x\n",
			wantErr: true,
		},
		{
			name:    "Unknown provider",
			yaml:    "llm:\n  provider: nope\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if got := cfg.LLM.name(); got != tt.wantProvider {
				t.Errorf("provider = %q, want %q", got, tt.wantProvider)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestProviderValidation(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tests := []struct {
		name    string
		llm     llmConfig
		wantErr bool
	}{
		{name: "Mock", llm: mockConfig{}},
		{name: "OpenAI without key", llm: openAIConfig{}, wantErr: true},
		{name: "OpenAI with key", llm: openAIConfig{APIKey: "k"}},
		{name: "OpenRouter key from env", llm: openRouterConfig{}},
		{name: "Ollama without model", llm: ollamaConfig{}, wantErr: true},
		{name: "Anthropic without max tokens", llm: anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}, wantErr: true},
		{name: "Anthropic", llm: anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}, MaxTokens: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.llm.provider("", logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("provider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	if level, err := cfg.logLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("logLevel() = %v, %v; want debug", level, err)
	}

	cfg.LogLevel = "loud"
	if _, err := cfg.logLevel(); err == nil {
		t.Error("logLevel() error = nil, want error for unknown level")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	cfg, err := loadConfig("", missing)
	if err != nil {
		t.Fatalf("loadConfig() with missing default error = %v", err)
	}
	if cfg.LLM.name() != "mock" || cfg.Port != defaultPort {
		t.Errorf("loadConfig() = %+v, want defaults", cfg)
	}

	if _, err := loadConfig(missing, missing); err == nil {
		t.Error("loadConfig() with missing explicit file error = nil, want error")
	}

	path := filepath.Join(dir, "config.yaml")
	content := "port: \"8080\"\nlogLevel: warn\nllm:\n  provider: ollama\n  model: llama3\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path, missing)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.LLM.name() != "ollama" || !strings.EqualFold(cfg.LogLevel, "warn") {
		t.Errorf("loadConfig() = %+v", cfg)
	}

	for name, content := range map[string]string{
		"empty.yaml":    "",
		"comments.yaml": "# nothing configured yet\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(path, missing)
		if err != nil {
			t.Fatalf("loadConfig(%s) error = %v", name, err)
		}
		if cfg.LLM.name() != "mock" || cfg.Port != defaultPort {
			t.Errorf("loadConfig(%s) = %+v, want defaults", name, cfg)
		}
	}
}
