package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	// ProviderMock is a scripted in-process client for tests and dry runs.
	ProviderMock = "mock"
)

// Tuning holds the knowledge-graph constants that are defaults rather than
// laws. They ship with the values the system was calibrated with.
type Tuning struct {
	MinConfidence     float64 // retention floor, below it a node is deprecated
	MaxConfidence     float64
	InitialConfidence float64
	ConfirmDelta      float64 // user confirmation
	CorrectDelta      float64 // user correction, negative
	ConsistentDelta   float64 // consistent reinforcement
	ContradictsDelta  float64 // negative
	UsedDelta         float64 // node cited in a response
	InferredBase      float64 // confidence of inferred insight nodes
	DecayPerDay       float64 // idle-time decay applied in maintenance
	MergeThreshold    float64 // label similarity for duplicate merge
	RankConfidence    float64 // ranking weight on confidence
	RankPageRank      float64 // ranking weight on pagerank
	RankRecency       float64 // ranking weight on recency
	RecencyHalfLife   float64 // days until recency score halves
}

// DefaultTuning returns the calibrated defaults.
func DefaultTuning() Tuning {
	return Tuning{
		MinConfidence:     0.05,
		MaxConfidence:     0.95,
		InitialConfidence: 0.5,
		ConfirmDelta:      0.2,
		CorrectDelta:      -0.4,
		ConsistentDelta:   0.05,
		ContradictsDelta:  -0.1,
		UsedDelta:         0.03,
		InferredBase:      0.3,
		DecayPerDay:       0.001,
		MergeThreshold:    0.92,
		RankConfidence:    0.5,
		RankPageRank:      0.3,
		RankRecency:       0.2,
		RecencyHalfLife:   30,
	}
}

// Config is an immutable snapshot of the runtime configuration, captured once
// at process start.
type Config struct {
	// LLM provider
	LLMProvider      string
	AnthropicAPIKey  string
	AnthropicModel   string
	OllamaModel      string
	OllamaBaseURL    string
	OllamaEmbedModel string

	// Storage paths
	DataDir         string
	DBPath          string
	GraphPath       string
	VectorPath      string
	JournalPath     string
	LogPath         string
	PersonalityPath string

	// Agent behavior
	MaxShortTermMessages int
	MaxContextMemories   int
	ExtractionEnabled    bool
	ReflectionEnabled    bool

	// Proactive layer
	ProactiveEnabled  bool
	ProactiveInterval time.Duration
	CheckinEnabled    bool

	// Web search
	WebSearchEnabled bool
	BraveAPIKey      string

	// Voice (providers are external; only the routing config lives here)
	TTSProvider       string
	TTSVoice          string
	OpenAIAPIKey      string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	STTProvider       string

	// API server
	APIHost string
	APIPort int

	LogLevel string

	Tuning Tuning
}

// Load reads the environment (prefix PSYCHO_) plus an optional .env-style
// config file and returns a validated snapshot.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PSYCHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	applyEnvFile(v, FilePath())

	cfg := &Config{
		LLMProvider:      strings.ToLower(v.GetString("llm_provider")),
		AnthropicAPIKey:  v.GetString("anthropic_api_key"),
		AnthropicModel:   v.GetString("anthropic_model"),
		OllamaModel:      v.GetString("ollama_model"),
		OllamaBaseURL:    strings.TrimRight(v.GetString("ollama_base_url"), "/"),
		OllamaEmbedModel: v.GetString("ollama_embed_model"),

		DataDir:         v.GetString("data_dir"),
		DBPath:          v.GetString("db_path"),
		GraphPath:       v.GetString("graph_path"),
		VectorPath:      v.GetString("vector_path"),
		JournalPath:     v.GetString("journal_path"),
		LogPath:         v.GetString("log_path"),
		PersonalityPath: v.GetString("personality_path"),

		MaxShortTermMessages: v.GetInt("max_short_term_messages"),
		MaxContextMemories:   v.GetInt("max_context_memories"),
		ExtractionEnabled:    v.GetBool("extraction_enabled"),
		ReflectionEnabled:    v.GetBool("reflection_enabled"),

		ProactiveEnabled:  v.GetBool("proactive_enabled"),
		ProactiveInterval: v.GetDuration("proactive_interval"),
		CheckinEnabled:    v.GetBool("checkin_enabled"),

		WebSearchEnabled: v.GetBool("web_search_enabled"),
		BraveAPIKey:      v.GetString("brave_api_key"),

		TTSProvider:       v.GetString("tts_provider"),
		TTSVoice:          v.GetString("tts_voice"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		ElevenLabsAPIKey:  v.GetString("elevenlabs_api_key"),
		ElevenLabsVoiceID: v.GetString("elevenlabs_voice_id"),
		STTProvider:       v.GetString("stt_provider"),

		APIHost: v.GetString("api_host"),
		APIPort: v.GetInt("api_port"),

		LogLevel: v.GetString("log_level"),

		Tuning: Tuning{
			MinConfidence:     v.GetFloat64("tuning.min_confidence"),
			MaxConfidence:     v.GetFloat64("tuning.max_confidence"),
			InitialConfidence: v.GetFloat64("tuning.initial_confidence"),
			ConfirmDelta:      v.GetFloat64("tuning.confirm_delta"),
			CorrectDelta:      v.GetFloat64("tuning.correct_delta"),
			ConsistentDelta:   v.GetFloat64("tuning.consistent_delta"),
			ContradictsDelta:  v.GetFloat64("tuning.contradicts_delta"),
			UsedDelta:         v.GetFloat64("tuning.used_delta"),
			InferredBase:      v.GetFloat64("tuning.inferred_base"),
			DecayPerDay:       v.GetFloat64("tuning.decay_per_day"),
			MergeThreshold:    v.GetFloat64("tuning.merge_threshold"),
			RankConfidence:    v.GetFloat64("tuning.rank_confidence"),
			RankPageRank:      v.GetFloat64("tuning.rank_pagerank"),
			RankRecency:       v.GetFloat64("tuning.rank_recency"),
			RecencyHalfLife:   v.GetFloat64("tuning.recency_half_life"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilePath resolves the .env-style config file: $PSYCHO_CONFIG when set,
// otherwise ~/.psycho/config.env.
func FilePath() string {
	if p := os.Getenv("PSYCHO_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".psycho", "config.env")
}

// applyEnvFile folds KEY=VALUE lines into the defaults layer. Real
// environment variables still win.
func applyEnvFile(v *viper.Viper, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(strings.TrimSpace(key), "PSYCHO_")
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		v.SetDefault(strings.ToLower(key), value)
	}
}

// SaveEnvFile writes settings as PSYCHO_-prefixed KEY=VALUE lines, sorted
// for stable diffs. The setup wizard uses it.
func SaveEnvFile(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# PsychoPortal configuration. Environment variables override these.\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "PSYCHO_%s=%s\n", strings.ToUpper(k), values[k])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm_provider", ProviderAnthropic)
	v.SetDefault("anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("ollama_model", "llama3.2")
	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("ollama_embed_model", "nomic-embed-text")

	v.SetDefault("data_dir", "data")
	v.SetDefault("db_path", filepath.Join("data", "psycho.db"))
	v.SetDefault("graph_path", filepath.Join("data", "graph"))
	v.SetDefault("vector_path", filepath.Join("data", "vectors"))
	v.SetDefault("journal_path", filepath.Join("data", "journals"))
	v.SetDefault("log_path", filepath.Join("data", "logs"))
	v.SetDefault("personality_path", filepath.Join("data", "personality.json"))

	v.SetDefault("max_short_term_messages", 20)
	v.SetDefault("max_context_memories", 5)
	v.SetDefault("extraction_enabled", true)
	v.SetDefault("reflection_enabled", true)

	v.SetDefault("proactive_enabled", true)
	v.SetDefault("proactive_interval", time.Minute)
	v.SetDefault("checkin_enabled", false)

	v.SetDefault("web_search_enabled", false)
	v.SetDefault("brave_api_key", "")

	v.SetDefault("tts_provider", "browser")
	v.SetDefault("tts_voice", "alloy")
	v.SetDefault("elevenlabs_voice_id", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("stt_provider", "browser")

	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 8000)

	v.SetDefault("log_level", "info")

	t := DefaultTuning()
	v.SetDefault("tuning.min_confidence", t.MinConfidence)
	v.SetDefault("tuning.max_confidence", t.MaxConfidence)
	v.SetDefault("tuning.initial_confidence", t.InitialConfidence)
	v.SetDefault("tuning.confirm_delta", t.ConfirmDelta)
	v.SetDefault("tuning.correct_delta", t.CorrectDelta)
	v.SetDefault("tuning.consistent_delta", t.ConsistentDelta)
	v.SetDefault("tuning.contradicts_delta", t.ContradictsDelta)
	v.SetDefault("tuning.used_delta", t.UsedDelta)
	v.SetDefault("tuning.inferred_base", t.InferredBase)
	v.SetDefault("tuning.decay_per_day", t.DecayPerDay)
	v.SetDefault("tuning.merge_threshold", t.MergeThreshold)
	v.SetDefault("tuning.rank_confidence", t.RankConfidence)
	v.SetDefault("tuning.rank_pagerank", t.RankPageRank)
	v.SetDefault("tuning.rank_recency", t.RankRecency)
	v.SetDefault("tuning.recency_half_life", t.RecencyHalfLife)
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("llm_provider must be %q or %q, got %q", ProviderAnthropic, ProviderOllama, c.LLMProvider)
	}
	if c.MaxShortTermMessages <= 0 {
		return fmt.Errorf("max_short_term_messages must be positive, got %d", c.MaxShortTermMessages)
	}
	if c.ProactiveInterval <= 0 {
		return fmt.Errorf("proactive_interval must be positive, got %v", c.ProactiveInterval)
	}
	if c.Tuning.MinConfidence >= c.Tuning.MaxConfidence {
		return fmt.Errorf("tuning: min_confidence %v must be below max_confidence %v",
			c.Tuning.MinConfidence, c.Tuning.MaxConfidence)
	}
	return nil
}

// EnsureDataDirs creates the on-disk layout.
func (c *Config) EnsureDataDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.DBPath),
		c.GraphPath,
		c.VectorPath,
		c.JournalPath,
		c.LogPath,
		filepath.Dir(c.PersonalityPath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return nil
}

// Rebase returns a copy with every storage path anchored under root.
// The CLI uses it to honor a --data-dir flag.
func (c *Config) Rebase(root string) *Config {
	out := *c
	out.DataDir = root
	out.DBPath = filepath.Join(root, "psycho.db")
	out.GraphPath = filepath.Join(root, "graph")
	out.VectorPath = filepath.Join(root, "vectors")
	out.JournalPath = filepath.Join(root, "journals")
	out.LogPath = filepath.Join(root, "logs")
	out.PersonalityPath = filepath.Join(root, "personality.json")
	return &out
}
