package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"supportkb/internal/domain"
)

// Config holds all configuration for the knowledge base.
type Config struct {
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	LLM       LLMConfig       `yaml:"llm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// KnowledgeConfig locates the corpus and its on-disk index.
type KnowledgeConfig struct {
	Root         string   `yaml:"root"`
	ManifestFile string   `yaml:"manifest_file"`
	StorageDir   string   `yaml:"storage_dir"` // relative to Root
	Backend      string   `yaml:"backend"`     // "fs" or "bolt"
	Excludes     []string `yaml:"excludes"`
}

// ChunkConfig holds chunking configuration.
type ChunkConfig struct {
	Size           int             `yaml:"size"`
	Overlap        int             `yaml:"overlap"`
	ImportantRules []ImportantRule `yaml:"important_rules"`
}

// ImportantRule is a pattern whose matches are stored as standalone chunks,
// widened by Pad characters on each side.
type ImportantRule struct {
	Pattern string `yaml:"pattern"`
	Pad     int    `yaml:"pad"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK            int           `yaml:"top_k"`
	Workers         int           `yaml:"workers"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	HighValueTerms  []string      `yaml:"high_value_terms"`
	Scoring         ScoringConfig `yaml:"scoring"`
}

// ScoringConfig holds the keyword scoring weights. Only their relative
// ordering matters.
type ScoringConfig struct {
	ExactMatch     float64 `yaml:"exact_match"`
	HighValueBonus float64 `yaml:"high_value_bonus"`
	RepeatBonus    float64 `yaml:"repeat_bonus"`
	TokenMatch     float64 `yaml:"token_match"`
	PhraseBonus    float64 `yaml:"phrase_bonus"`
	MinTokenRunes  int     `yaml:"min_token_runes"`
	MinSingleRunes int     `yaml:"min_single_runes"`
}

// LLMConfig configures the OpenAI-compatible generation endpoint.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Path   string `yaml:"path"`   // empty logs to stderr
}

// DefaultImportantPattern matches a maintenance spec sentence: a named
// component followed by a numeric range and a unit, e.g. "ブレーキパッド厚さ 8〜10mm".
const DefaultImportantPattern = `[\p{Han}\p{Katakana}\p{Hiragana}A-Za-z]+[^\n\d]{0,20}?\d+(?:\.\d+)?\s*[~〜～\-－]\s*\d+(?:\.\d+)?\s*(?:mm|cm|kPa|MPa|N・m|N·m|Nm|kgf|rpm|km|℃|°C|V|A|L)`

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Knowledge: KnowledgeConfig{
			Root:         "knowledge",
			ManifestFile: "index.json",
			StorageDir:   filepath.Join(".kb", "documents"),
			Backend:      "fs",
			Excludes:     []string{"~$*", "*.tmp", "*.bak"},
		},
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 200,
			ImportantRules: []ImportantRule{
				{Pattern: DefaultImportantPattern, Pad: 50},
			},
		},
		Retrieve: RetrieveConfig{
			TopK:            7,
			Workers:         4,
			CacheSize:       100,
			CacheTTLSeconds: 300,
			HighValueTerms:  []string{"トルク", "規定値", "締付", "交換時期", "点検", "警告灯"},
			Scoring: ScoringConfig{
				ExactMatch:     10,
				HighValueBonus: 5,
				RepeatBonus:    2,
				TokenMatch:     3,
				PhraseBonus:    5,
				MinTokenRunes:  3,
				MinSingleRunes: 2,
			},
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("%w: chunk.size must be positive", domain.ErrInvalidConfig)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("%w: chunk.overlap (%d) must be in [0, chunk.size)", domain.ErrInvalidConfig, c.Chunk.Overlap)
	}
	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("%w: retrieve.top_k must be positive", domain.ErrInvalidConfig)
	}
	switch c.Knowledge.Backend {
	case "fs", "bolt":
	default:
		return fmt.Errorf("%w: unknown storage backend %q", domain.ErrInvalidConfig, c.Knowledge.Backend)
	}
	return nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kb.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "kb.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".kb", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RootDir resolves the knowledge root against base when it is relative.
func (c *Config) RootDir(base string) string {
	if filepath.IsAbs(c.Knowledge.Root) {
		return filepath.Clean(c.Knowledge.Root)
	}
	return filepath.Join(base, c.Knowledge.Root)
}

// ManifestPath returns the path of the manifest file under root.
func (c *Config) ManifestPath(root string) string {
	return filepath.Join(root, c.Knowledge.ManifestFile)
}

// StoragePath returns the per-document storage directory under root.
func (c *Config) StoragePath(root string) string {
	return filepath.Join(root, c.Knowledge.StorageDir)
}

// BoltPath returns the path to the bbolt database used by the "bolt" backend.
func BoltPath(root string) string {
	return filepath.Join(root, ".kb", "store.db")
}

// EnsureDirs creates the knowledge root and its storage directory.
func (c *Config) EnsureDirs(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.StoragePath(root), 0755)
}
