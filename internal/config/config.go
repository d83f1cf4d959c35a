package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Gemini     GeminiConfig
	Storage    StorageConfig
	Data       DataConfig
	Retrieval  RetrievalConfig
	Enrichment EnrichmentConfig
	Ingest     IngestConfig
	Chat       ChatConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type GeminiConfig struct {
	APIKey         string
	ChatModel      string
	EmbedModel     string
	EmbedDimension int
	Temperature    float64
	Timeout        string
}

type StorageConfig struct {
	DataDir string
}

// DataConfig points at the source material: a folder of disclosures and the
// daily closing-price CSV.
type DataConfig struct {
	Dir       string
	PriceFile string
}

type RetrievalConfig struct {
	TopK             int
	MaxContextTokens int
	ChunkSize        int
	ChunkOverlap     int
}

type EnrichmentConfig struct {
	RerankingEnabled   bool
	RerankingTimeout   string
	RerankingThreshold float64
}

type IngestConfig struct {
	// Schedule is a cron expression for re-scanning Data.Dir while serving.
	// Empty disables the scheduler.
	Schedule string
	// EmbedConcurrency caps parallel embedding requests per document.
	EmbedConcurrency int
}

type ChatConfig struct {
	SlowWarning string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Gemini: GeminiConfig{
			ChatModel:      "gemini-2.0-flash",
			EmbedModel:     "gemini-embedding-001",
			EmbedDimension: 768,
			Temperature:    0.1,
			Timeout:        "60s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Data: DataConfig{
			Dir:       "data",
			PriceFile: filepath.Join("data", "BFS_Share_Price.csv"),
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			MaxContextTokens: 6000,
			ChunkSize:        1500,
			ChunkOverlap:     300,
		},
		Enrichment: EnrichmentConfig{
			RerankingTimeout:   "5s",
			RerankingThreshold: 0.3,
		},
		Ingest: IngestConfig{
			EmbedConcurrency: 4,
		},
		Chat: ChatConfig{
			SlowWarning: "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, environment variables, and the secrets file.
//
// The file backend lives at $XDG_CONFIG_HOME/finrag/config.json. Environment
// variables (FINRAG_*) override file values. The Google API key is required;
// GOOGLE_API_KEY is honoured as well as FINRAG_GOOGLE_API_KEY.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get("finrag", "google_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Google API key. " +
			"Set GOOGLE_API_KEY (or FINRAG_GOOGLE_API_KEY) in the environment or a .env file")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	for name, raw := range map[string]string{
		"gemini.timeout":               c.Gemini.Timeout,
		"enrichment.reranking_timeout": c.Enrichment.RerankingTimeout,
		"chat.slow_warning":            c.Chat.SlowWarning,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap (%d) must be smaller than retrieval.chunk_size (%d)",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	return nil
}

// Duration parses a duration value that validate has already accepted,
// falling back to def if it is somehow malformed.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// keychainReader reads from the secrets file.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
