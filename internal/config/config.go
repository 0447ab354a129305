package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models genie.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	LLM            LLMConfig `yaml:"llm"`
	ProjectService struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"project_service"`
	Store struct {
		Backend   string `yaml:"backend"`
		Workspace string `yaml:"workspace"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LLMConfig holds the completion API settings. APIKey is normally injected from
// OPENAI_API_KEY rather than written to the file.
type LLMConfig struct {
	URL           string  `yaml:"url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	AskMaxTokens  int     `yaml:"ask_max_tokens"`
	ChatMaxTokens int     `yaml:"chat_max_tokens"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with genie config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("config.store.backend must be %q or %q", BackendMemory, BackendSQLite)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config.llm.temperature must be between 0 and 2")
	}
	if c.LLM.AskMaxTokens <= 0 || c.LLM.ChatMaxTokens <= 0 {
		return fmt.Errorf("config.llm max tokens must be positive")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.ProjectService.TimeoutSeconds < 0 {
		return fmt.Errorf("config.project_service.timeout_seconds must not be negative")
	}
	return nil
}

// ProjectServiceTimeout returns the per-call timeout for the external project service.
func (c *Config) ProjectServiceTimeout() time.Duration {
	if c.ProjectService.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProjectService.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "genie.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8000
  base_path: /projects

llm:
  url: https://api.openai.com/v1/chat/completions
  model: gpt-3.5-turbo
  temperature: 0.7
  ask_max_tokens: 150
  chat_max_tokens: 300

project_service:
  # Base URL of the external project backend. Usually set via PROJECT_SERVICE_URL.
  url: ""
  timeout_seconds: 10

store:
  # memory keeps projects for the lifetime of the process; sqlite keeps them
  # under <workspace>/.genie/genie.db.
  backend: memory
  workspace: .

log:
  level: info
  format: text
`
