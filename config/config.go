package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/poiesic/verbatim/ai"
	"github.com/poiesic/verbatim/chunker"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/format"
	"github.com/poiesic/verbatim/verbatim"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VERBATIM_"

// Store kinds.
const (
	StoreBadger  = "badger"
	StoreChromem = "chromem"
)

// AIConfig configures the embedding and generation endpoints.
type AIConfig struct {
	EmbeddingHost  string  `yaml:"embedding_host" env:"EMBEDDING_HOST"`
	GeneratorHost  string  `yaml:"generator_host" env:"GENERATOR_HOST"`
	EmbeddingModel string  `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	GeneratorModel string  `yaml:"generator_model" env:"GENERATOR_MODEL"`
	Token          string  `yaml:"token,omitempty" env:"TOKEN"`
	Temperature    float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens      int     `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// ChunkingConfig configures the transcript chunker.
type ChunkingConfig struct {
	MaxChunkSize     int      `yaml:"max_chunk_size" env:"MAX_SIZE"`
	ModeratorAliases []string `yaml:"moderator_aliases" env:"MODERATOR_ALIASES" envSeparator:","`
}

// IndexingConfig configures the indexer worker pool and retries.
type IndexingConfig struct {
	PoolSize    int           `yaml:"pool_size" env:"POOL_SIZE"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	RateLimit   float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst   int           `yaml:"rate_burst" env:"RATE_BURST"`
}

// RetrievalConfig configures similarity search.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k" env:"TOP_K"`
	VerbatimTopK int     `yaml:"verbatim_top_k" env:"VERBATIM_TOP_K"`
	MaxTopK      int     `yaml:"max_top_k" env:"MAX_TOP_K"`
	MinScore     float64 `yaml:"min_score" env:"MIN_SCORE"`
	Oversample   int     `yaml:"oversample" env:"OVERSAMPLE"`
}

// VerbatimConfig configures quote extraction and rendering.
type VerbatimConfig struct {
	MinLength         int    `yaml:"min_length" env:"MIN_LENGTH"`
	MaxLength         int    `yaml:"max_length" env:"MAX_LENGTH"`
	ExcludeModerator  bool   `yaml:"exclude_moderator" env:"EXCLUDE_MODERATOR"`
	IncludeModerator  bool   `yaml:"include_moderator" env:"INCLUDE_MODERATOR"`
	ParticipantFilter string `yaml:"participant_filter,omitempty" env:"PARTICIPANT_FILTER"`
	Format            string `yaml:"format" env:"FORMAT"`
	ExportPath        string `yaml:"export_path,omitempty" env:"EXPORT_PATH"`
}

// LoaderConfig configures file discovery.
type LoaderConfig struct {
	MaxFileSize int64 `yaml:"max_file_size" env:"MAX_FILE_SIZE"`
}

// Config is the complete application configuration.
type Config struct {
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	Store      string `yaml:"store" env:"STORE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	OutputDir  string `yaml:"output_dir,omitempty" env:"OUTPUT_DIR"` // where query results are saved; empty disables saving

	AI        AIConfig        `yaml:"ai" envPrefix:"AI_"`
	Chunking  ChunkingConfig  `yaml:"chunking" envPrefix:"CHUNK_"`
	Indexing  IndexingConfig  `yaml:"indexing" envPrefix:"INDEX_"`
	Retrieval RetrievalConfig `yaml:"retrieval" envPrefix:"RETRIEVAL_"`
	Verbatim  VerbatimConfig  `yaml:"verbatim" envPrefix:"QUOTE_"`
	Loader    LoaderConfig    `yaml:"loader" envPrefix:"LOADER_"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		DataDir:    defaultDataDir(),
		Store:      StoreBadger,
		Collection: "transcripts",
		LogLevel:   "info",
		AI: AIConfig{
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			GeneratorHost:  aiDefaults.GeneratorHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			GeneratorModel: aiDefaults.GeneratorModel,
			Temperature:    aiDefaults.Temperature,
			MaxTokens:      aiDefaults.MaxTokens,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize:     chunker.DefaultMaxChunkSize,
			ModeratorAliases: append([]string(nil), chunker.DefaultModeratorAliases...),
		},
		Indexing: IndexingConfig{
			PoolSize:    4,
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			RateBurst:   1,
		},
		Retrieval: RetrievalConfig{
			TopK:         10,
			VerbatimTopK: 20,
			MaxTopK:      100,
			MinScore:     0.1,
			Oversample:   2,
		},
		Verbatim: VerbatimConfig{
			MinLength:        verbatim.DefaultMinLength,
			MaxLength:        verbatim.DefaultMaxLength,
			ExcludeModerator: true,
			Format:           string(format.Research),
		},
		Loader: LoaderConfig{
			MaxFileSize: 10 << 20,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verbatim"
	}
	return filepath.Join(home, ".local", "share", "verbatim")
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty, unknown keys rejected), a .env file and the environment, in that order of
// increasing precedence. Variables already set in the environment win over
// the .env file. dotenv names the .env files to read; none means "./.env",
// which may be absent.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: parse config %s: %w", core.ErrValidation, path, err)
		}
	}

	if len(dotenv) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(dotenv...); err != nil {
		return nil, fmt.Errorf("load %s: %w", strings.Join(dotenv, ", "), err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if cfg.AI.Token == "" {
		cfg.AI.Token = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
// The API token is never written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out := *cfg
	out.AI.Token = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects out-of-range and unknown settings with core.ErrValidation.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(msg string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+msg, append([]any{core.ErrValidation}, args...)...))
	}

	switch c.Store {
	case StoreBadger, StoreChromem:
	default:
		invalid("unknown store %q (want %s or %s)", c.Store, StoreBadger, StoreChromem)
	}
	if c.Collection == "" {
		invalid("collection is required")
	}
	if c.DataDir == "" {
		invalid("data_dir is required")
	}
	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", core.ErrValidation, err))
	}
	if c.Chunking.MaxChunkSize < 1 {
		invalid("max_chunk_size must be positive, got %d", c.Chunking.MaxChunkSize)
	}
	if c.Indexing.PoolSize < 1 {
		invalid("pool_size must be positive, got %d", c.Indexing.PoolSize)
	}
	if c.Indexing.MaxAttempts < 1 {
		invalid("max_attempts must be positive, got %d", c.Indexing.MaxAttempts)
	}
	if c.Indexing.BaseDelay < 0 {
		invalid("base_delay must not be negative, got %s", c.Indexing.BaseDelay)
	}
	if c.Indexing.RateLimit < 0 {
		invalid("rate_limit must not be negative, got %v", c.Indexing.RateLimit)
	}
	if c.Retrieval.MaxTopK < 1 {
		invalid("max_top_k must be positive, got %d", c.Retrieval.MaxTopK)
	}
	if c.Retrieval.Oversample < 1 {
		invalid("oversample must be at least 1, got %d", c.Retrieval.Oversample)
	}
	for _, topK := range []int{c.Retrieval.TopK, c.Retrieval.VerbatimTopK} {
		if err := core.ValidateTopK(topK, c.Retrieval.MaxTopK); err != nil {
			errs = append(errs, err)
		}
	}
	if err := core.ValidateMinScore(c.Retrieval.MinScore); err != nil {
		errs = append(errs, err)
	}
	if err := c.VerbatimOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := format.ParseFormat(c.Verbatim.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Loader.MaxFileSize < 1 {
		invalid("max_file_size must be positive, got %d", c.Loader.MaxFileSize)
	}

	return errors.Join(errs...)
}

// AIConfig returns the AI provider configuration.
func (c *Config) AIConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGeneratorHost(c.AI.GeneratorHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGeneratorModel(c.AI.GeneratorModel),
		ai.WithToken(c.AI.Token),
		ai.WithTemperature(c.AI.Temperature),
		ai.WithMaxTokens(c.AI.MaxTokens),
	)
	cfg.Normalize()
	return cfg
}

// VerbatimOptions returns the extraction options.
func (c *Config) VerbatimOptions() verbatim.Options {
	return verbatim.Options{
		MinLength:         c.Verbatim.MinLength,
		MaxLength:         c.Verbatim.MaxLength,
		ExcludeModerator:  c.Verbatim.ExcludeModerator,
		IncludeModerator:  c.Verbatim.IncludeModerator,
		DemographicFilter: c.Verbatim.ParticipantFilter,
	}
}

// StorePath returns the directory holding the store's files.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, c.Store)
}
