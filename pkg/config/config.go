// Package config loads the engine's YAML configuration: LLM providers,
// tool-broker behavior, and per-session defaults. It follows the
// teacher's read→expand→decode→default pipeline (pkg/config/loader.go):
// parse YAML into a map, expand ${VAR} references against the
// environment, decode via mapstructure, then apply defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/corvidlabs/symborc/pkg/events"
	"github.com/corvidlabs/symborc/pkg/llms"
	"github.com/corvidlabs/symborc/pkg/toolbroker"
)

// ProviderConfig names one configured LLM client.
type ProviderConfig struct {
	Type   string `yaml:"type"`   // "anthropic" or "openai"
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	Host   string `yaml:"host"`
}

// ToolBrokerConfig mirrors toolbroker.Configuration for YAML decoding.
type ToolBrokerConfig struct {
	FailOverLLM        int  `yaml:"fail_over_llm"`
	ApplyEditsDirectly bool `yaml:"apply_edits_directly"`
}

// ScratchPadConfig holds scratch-pad tunables decoded from YAML. The
// reactor does not read it; it uses its own DefaultMaxFilesContext and
// DefaultMaxConcurrentEdits constants.
type ScratchPadConfig struct {
	MaxFilesContext    int `yaml:"max_files_context"`
	MaxConcurrentEdits int `yaml:"max_concurrent_edits"`
}

// TracingConfig controls the ambient OpenTelemetry tracer (pkg/tracing).
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Config is the top-level decoded configuration document.
type Config struct {
	DataDir            string                    `yaml:"data_dir"`
	EditorURL          string                    `yaml:"editor_url"`
	DefaultLLM         string                    `yaml:"default_llm"`
	LLMs               map[string]ProviderConfig `yaml:"llms"`
	ToolBroker         ToolBrokerConfig          `yaml:"tool_broker"`
	ScratchPad         ScratchPadConfig          `yaml:"scratch_pad"`
	Tracing            TracingConfig             `yaml:"tracing"`
	MaxConcurrentEdits int                       `yaml:"max_concurrent_edits"`
}

// SetDefaults fills in the zero-value fields the engine relies on, the
// same "always leave the struct in a runnable state" discipline the
// teacher's Config.SetDefaults applies before validation.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.ToolBroker.FailOverLLM == 0 {
		c.ToolBroker.FailOverLLM = toolbroker.DefaultConfiguration().FailOverLLM
	}
	if c.ScratchPad.MaxFilesContext == 0 {
		c.ScratchPad.MaxFilesContext = 50
	}
	if c.ScratchPad.MaxConcurrentEdits == 0 {
		c.ScratchPad.MaxConcurrentEdits = 100
	}
	if c.MaxConcurrentEdits == 0 {
		c.MaxConcurrentEdits = 100
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate reports a configuration that cannot possibly run: no LLMs
// configured, or default_llm naming a provider that doesn't exist.
func (c *Config) Validate() error {
	if len(c.LLMs) == 0 {
		return fmt.Errorf("config: no llms configured")
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("config: default_llm %q is not a configured provider", c.DefaultLLM)
		}
	}
	for name, p := range c.LLMs {
		if p.Type != "anthropic" && p.Type != "openai" {
			return fmt.Errorf("config: llm %q has unsupported type %q", name, p.Type)
		}
	}
	return nil
}

// ToolBrokerConfiguration converts the decoded ToolBrokerConfig into
// toolbroker.Configuration.
func (c *Config) ToolBrokerConfiguration() toolbroker.Configuration {
	return toolbroker.Configuration{
		FailOverLLM:        c.ToolBroker.FailOverLLM,
		ApplyEditsDirectly: c.ToolBroker.ApplyEditsDirectly,
	}
}

// BuildLLMBroker constructs an llms.Broker with one client per configured
// provider, matching ProviderConfig.Type to a concrete client
// implementation. Each client is wrapped with llms.Instrument so its
// calls report latency/outcome to metricsSink and run inside a span from
// tracer; either may be nil to skip that instrumentation.
func (c *Config) BuildLLMBroker(metricsSink llms.MetricsSink, tracer trace.Tracer) (*llms.Broker, error) {
	broker := llms.NewBroker()
	for name, p := range c.LLMs {
		var client llms.Client
		switch p.Type {
		case "anthropic":
			client = llms.NewAnthropicClient(p.APIKey, p.Model, p.Host)
		case "openai":
			client = llms.NewOpenAIClient(p.APIKey, p.Model, p.Host)
		default:
			return nil, fmt.Errorf("config: llm %q has unsupported type %q", name, p.Type)
		}
		client = llms.Instrument(client, p.Type, metricsSink, tracer)
		if err := broker.Register(llms.LLMType(name), client); err != nil {
			return nil, fmt.Errorf("config: registering llm %q: %w", name, err)
		}
	}
	return broker, nil
}

// DefaultModelConfig returns the events.ModelConfig for default_llm.
func (c *Config) DefaultModelConfig() events.ModelConfig {
	p := c.LLMs[c.DefaultLLM]
	return events.ModelConfig{Provider: p.Type, Model: p.Model}
}

// Load reads a YAML config file from path, expanding ${VAR} references
// against the process environment (after first loading any .env file
// found alongside envFile, if non-empty), decodes it, applies defaults,
// and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		// Ignore a missing .env — it's an optional local override, the
		// same behavior godotenv.Load gives the teacher's CLI entrypoint.
		_ = godotenv.Load(envFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var rawMap map[string]any
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	expanded := expandEnvVars(rawMap)

	cfg := &Config{}
	if err := decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	return decoder.Decode(input)
}

func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				varName := inner[:idx]
				defaultVal := inner[idx+2:]
				if val := os.Getenv(varName); val != "" {
					return val
				}
				return defaultVal
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}
