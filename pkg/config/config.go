// Package config loads service configuration from the environment. Values
// in .env.local and .env are applied first without overriding variables
// that are already set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreHybrid   = "hybrid"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	LogLevel   string

	Store       string
	DatabaseURL string
	QdrantURL   string
	Collection  string
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	Neo4jDB     string
	EmbedDim    int

	Provider         string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiEmbedModel string
	GeminiGenModel   string
	OllamaURL        string
	OllamaEmbedModel string
	OllamaGenModel   string

	EmbedWorkers     int
	EmbedTimeout     time.Duration
	ProviderRPS      float64
	ProviderBurst    int
	BreakerThreshold int
	BreakerCooldown  time.Duration

	ChunkMaxChars     int
	ChunkOverlapChars int

	RedisURL string
	CacheTTL time.Duration

	NATSURL       string
	IngestSubject string
	DLQSubject    string
	MaxRetries    int
}

// GenModel returns the generation model of the selected provider.
func (c Config) GenModel() string {
	if c.Provider == ProviderOllama {
		return c.OllamaGenModel
	}
	return c.GeminiGenModel
}

// EmbedModel returns the embedding model of the selected provider.
func (c Config) EmbedModel() string {
	if c.Provider == ProviderOllama {
		return c.OllamaEmbedModel
	}
	return c.GeminiEmbedModel
}

// LoadDotEnv applies .env.local then .env from the working directory.
// Missing files are ignored; a file that cannot be parsed is reported
// and the remaining files are still applied.
func LoadDotEnv() error {
	var errs []error
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	p := &parser{}
	cfg := Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		LogLevel:   envOr("LOG_LEVEL", "info"),

		Store:       strings.ToLower(envOr("STORE", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "brain_chunks"),
		Neo4jURL:    envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:   envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASS", "password"),
		Neo4jDB:     os.Getenv("NEO4J_DATABASE"),
		EmbedDim:    p.int("EMBED_DIM", 768),

		Provider:         strings.ToLower(envOr("PROVIDER", ProviderGemini)),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiEmbedModel: envOr("GEMINI_EMBED_MODEL", "text-embedding-004"),
		GeminiGenModel:   envOr("GEMINI_GEN_MODEL", "gemini-2.5-flash"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel: envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaGenModel:   envOr("OLLAMA_GEN_MODEL", "llama3.1"),

		EmbedWorkers:     p.int("EMBED_WORKERS", 4),
		EmbedTimeout:     p.duration("EMBED_TIMEOUT", 30*time.Second),
		ProviderRPS:      p.float("PROVIDER_RPS", 10),
		ProviderBurst:    p.int("PROVIDER_BURST", 4),
		BreakerThreshold: p.int("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  p.duration("BREAKER_COOLDOWN", 30*time.Second),

		ChunkMaxChars:     p.int("CHUNK_MAX_CHARS", 1200),
		ChunkOverlapChars: p.int("CHUNK_OVERLAP_CHARS", 200),

		RedisURL: os.Getenv("REDIS_URL"),
		CacheTTL: p.duration("EMBED_CACHE_TTL", 7*24*time.Hour),

		NATSURL:       os.Getenv("NATS_URL"),
		IngestSubject: envOr("INGEST_SUBJECT", "brain.ingest"),
		DLQSubject:    envOr("INGEST_DLQ_SUBJECT", "brain.ingest.dlq"),
		MaxRetries:    p.int("INGEST_MAX_RETRIES", 3),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreHybrid:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL is required for STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE %q", c.Store))
	}
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("config: GEMINI_API_KEY is required for PROVIDER=gemini"))
		}
	case ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("config: unknown PROVIDER %q", c.Provider))
	}
	if c.EmbedWorkers <= 0 {
		errs = append(errs, errors.New("config: EMBED_WORKERS must be positive"))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, errors.New("config: EMBED_DIM must be positive"))
	}
	if c.ChunkMaxChars <= 0 || c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkMaxChars {
		errs = append(errs, fmt.Errorf("config: chunk sizes %d/%d invalid", c.ChunkMaxChars, c.ChunkOverlapChars))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser collects conversion errors so Load reports all of them at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return d
}

// ParseLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
