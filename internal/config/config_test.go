package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Keep the developer's own ~/.psycho/config.env out of the assertions.
	t.Setenv("PSYCHO_CONFIG", filepath.Join(t.TempDir(), "absent.env"))
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	require.Equal(t, 20, cfg.MaxShortTermMessages)
	require.Equal(t, 5, cfg.MaxContextMemories)
	require.True(t, cfg.ExtractionEnabled)
	require.True(t, cfg.ReflectionEnabled)
	require.Equal(t, time.Minute, cfg.ProactiveInterval)
	require.False(t, cfg.WebSearchEnabled)
	require.Equal(t, 8000, cfg.APIPort)

	require.InDelta(t, 0.05, cfg.Tuning.MinConfidence, 1e-9)
	require.InDelta(t, 0.95, cfg.Tuning.MaxConfidence, 1e-9)
	require.InDelta(t, -0.4, cfg.Tuning.CorrectDelta, 1e-9)
	require.InDelta(t, 0.92, cfg.Tuning.MergeThreshold, 1e-9)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("PSYCHO_LLM_PROVIDER", "openrouter")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "llm_provider")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PSYCHO_LLM_PROVIDER", "ollama")
	t.Setenv("PSYCHO_OLLAMA_MODEL", "qwen3")
	t.Setenv("PSYCHO_PROACTIVE_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderOllama, cfg.LLMProvider)
	require.Equal(t, "qwen3", cfg.OllamaModel)
	require.Equal(t, 5*time.Second, cfg.ProactiveInterval)
}

func TestSaveEnvFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, SaveEnvFile(path, map[string]string{
		"llm_provider": "ollama",
		"ollama_model": "qwen3",
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "PSYCHO_LLM_PROVIDER=ollama\nPSYCHO_OLLAMA_MODEL=qwen3\n",
		"keys are prefixed and sorted")

	t.Setenv("PSYCHO_CONFIG", path)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderOllama, cfg.LLMProvider)
	require.Equal(t, "qwen3", cfg.OllamaModel)
}

func TestEnvFileLosesToEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, SaveEnvFile(path, map[string]string{"ollama_model": "qwen3"}))

	t.Setenv("PSYCHO_CONFIG", path)
	t.Setenv("PSYCHO_OLLAMA_MODEL", "mistral")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "mistral", cfg.OllamaModel)
}

func TestRebaseAndEnsureDataDirs(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	root := t.TempDir()
	cfg = cfg.Rebase(root)
	require.Equal(t, filepath.Join(root, "psycho.db"), cfg.DBPath)
	require.NoError(t, cfg.EnsureDataDirs())
	require.DirExists(t, filepath.Join(root, "graph"))
	require.DirExists(t, filepath.Join(root, "journals"))
	require.DirExists(t, filepath.Join(root, "logs"))
}
