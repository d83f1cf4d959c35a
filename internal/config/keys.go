package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	altEnv  string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FINRAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FINRAG_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "gemini.api_key", typ: kString, env: "FINRAG_GOOGLE_API_KEY", altEnv: "GOOGLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.chat_model", typ: kString, env: "FINRAG_GEMINI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.ChatModel },
	},
	{
		key: "gemini.embed_model", typ: kString, env: "FINRAG_GEMINI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedModel },
	},
	{
		key: "gemini.embed_dimension", typ: kInt, env: "FINRAG_GEMINI_EMBED_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedDimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedDimension },
	},
	{
		key: "gemini.temperature", typ: kFloat, env: "FINRAG_GEMINI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gemini.Temperature },
	},
	{
		key: "gemini.timeout", typ: kString, env: "FINRAG_GEMINI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FINRAG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "data.dir", typ: kString, env: "FINRAG_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Data.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.Dir },
	},
	{
		key: "data.price_file", typ: kString, env: "FINRAG_DATA_PRICE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Data.PriceFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.PriceFile },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "FINRAG_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.max_context_tokens", typ: kInt, env: "FINRAG_RETRIEVAL_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextTokens },
	},
	{
		key: "retrieval.chunk_size", typ: kInt, env: "FINRAG_RETRIEVAL_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkSize },
	},
	{
		key: "retrieval.chunk_overlap", typ: kInt, env: "FINRAG_RETRIEVAL_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkOverlap },
	},
	{
		key: "enrichment.reranking_enabled", typ: kBool, env: "FINRAG_ENRICHMENT_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.RerankingEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Enrichment.RerankingEnabled },
	},
	{
		key: "enrichment.reranking_timeout", typ: kString, env: "FINRAG_ENRICHMENT_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.RerankingTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.RerankingTimeout },
	},
	{
		key: "enrichment.reranking_threshold", typ: kFloat, env: "FINRAG_ENRICHMENT_RERANKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.RerankingThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Enrichment.RerankingThreshold },
	},
	{
		key: "ingest.schedule", typ: kString, env: "FINRAG_INGEST_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Schedule },
	},
	{
		key: "ingest.embed_concurrency", typ: kInt, env: "FINRAG_INGEST_EMBED_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.EmbedConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.EmbedConcurrency },
	},
	{
		key: "chat.slow_warning", typ: kString, env: "FINRAG_CHAT_SLOW_WARNING",
		apply:   func(cfg *Config, v any) { cfg.Chat.SlowWarning = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.SlowWarning },
	},
	{
		key: "log.level", typ: kString, env: "FINRAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func lookupEnv(s keySpec) (name, raw string) {
	if raw := os.Getenv(s.env); raw != "" {
		return s.env, raw
	}
	if s.altEnv != "" {
		if raw := os.Getenv(s.altEnv); raw != "" {
			return s.altEnv, raw
		}
	}
	return s.env, ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}
