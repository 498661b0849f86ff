package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test-123")
	path := writeConfig(t, `
default_llm: claude
llms:
  claude:
    type: anthropic
    api_key: ${TEST_ANTHROPIC_KEY}
    model: claude-sonnet-4
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLMs["claude"].APIKey)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
default_llm: claude
llms:
  claude:
    type: anthropic
    model: claude-sonnet-4
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 3, cfg.ToolBroker.FailOverLLM)
	assert.Equal(t, 50, cfg.ScratchPad.MaxFilesContext)
	assert.Equal(t, 100, cfg.MaxConcurrentEdits)
}

func TestLoadRejectsUnknownDefaultLLM(t *testing.T) {
	path := writeConfig(t, `
default_llm: missing
llms:
  claude:
    type: anthropic
    model: claude-sonnet-4
`)

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadRejectsEmptyProviders(t *testing.T) {
	path := writeConfig(t, `data_dir: ./data`)

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoadRejectsUnsupportedProviderType(t *testing.T) {
	path := writeConfig(t, `
llms:
  bad:
    type: cohere
    model: x
`)

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestBuildLLMBrokerRegistersEveryProvider(t *testing.T) {
	path := writeConfig(t, `
default_llm: claude
llms:
  claude:
    type: anthropic
    api_key: key
    model: claude-sonnet-4
  gpt:
    type: openai
    api_key: key
    model: gpt-5
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	broker, err := cfg.BuildLLMBroker(nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"claude", "gpt"}, broker.RegisteredModels())
}
