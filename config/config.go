package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/pkg/retry"
)

// EnvPrefix selects environment overrides: CRAG_ENGINE__TOP_K -> engine.top_k.
const EnvPrefix = "CRAG_"

// Provider names accepted by llm.provider.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderCohere = "cohere"
)

// Backend names shared by index, session and feedback sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Config is the root configuration of the service.
type Config struct {
	Engine    Engine          `koanf:"engine"`
	LLM       LLMConfig       `koanf:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Index     IndexConfig     `koanf:"index"`
	WebSearch WebSearchConfig `koanf:"web_search"`
	Session   SessionConfig   `koanf:"session"`
	Feedback  FeedbackConfig  `koanf:"feedback"`
	Server    ServerConfig    `koanf:"server"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

// Engine holds the thresholds and caps of the orchestration engine. It is
// treated as immutable once handed to the orchestrator.
//
// The relevance thresholds depend on corpus size: small corpora need looser
// values to avoid spurious web fallback.
type Engine struct {
	RelevanceThreshold  float64 `koanf:"relevance_threshold"`
	MinHighDocs         int     `koanf:"min_high_docs"`
	SecondaryThreshold  float64 `koanf:"secondary_threshold"`
	HighCutoff          float64 `koanf:"high_cutoff"`
	MediumCutoff        float64 `koanf:"medium_cutoff"`
	EmbeddingThreshold  float64 `koanf:"embedding_threshold"`
	EmbeddingWeight     float64 `koanf:"embedding_weight"`
	ClarityThreshold    float64 `koanf:"clarity_threshold"`
	DisclaimerThreshold float64 `koanf:"disclaimer_threshold"`
	WebMinScore         float64 `koanf:"web_min_score"`

	MaxRetries int `koanf:"max_retries"`
	MaxHITL    int `koanf:"max_hitl"`
	TopK       int `koanf:"top_k"`

	MaxConcurrentRequests int `koanf:"max_concurrent_requests"`
	Fanout                int `koanf:"fanout"`
	MaxSubQueries         int `koanf:"max_sub_queries"`
	ContentLimit          int `koanf:"content_limit"`
	ContextTokens         int `koanf:"context_tokens"`

	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBase      time.Duration `koanf:"retry_base"`
	RetryMax       time.Duration `koanf:"retry_max"`

	CacheTTL time.Duration `koanf:"cache_ttl"`
	Debug    bool          `koanf:"debug"`
}

// RetryPolicy converts the engine retry settings into a retry.Policy.
func (e Engine) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if e.RetryAttempts > 0 {
		p.MaxAttempts = uint(e.RetryAttempts)
	}
	if e.RetryBase > 0 {
		p.InitialInterval = e.RetryBase
	}
	if e.RetryMax > 0 {
		p.MaxInterval = e.RetryMax
	}
	if e.RequestTimeout > 0 {
		p.AttemptTimeout = e.RequestTimeout
	}
	return p
}

// LLMConfig selects and configures the language-model provider.
type LLMConfig struct {
	Provider    string  `koanf:"provider"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// EmbeddingConfig configures the OpenAI embedder used by the document index.
type EmbeddingConfig struct {
	APIKey    string `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	Dimension int    `koanf:"dimension"`
}

// IndexConfig selects the document index backend.
type IndexConfig struct {
	Backend  string         `koanf:"backend"`
	SeedFile string         `koanf:"seed_file"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// PostgresConfig configures the pgvector document index.
type PostgresConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
	DBName    string `koanf:"db_name"`
	SSLMode   string `koanf:"ssl_mode"`
	Table     string `koanf:"table"`
	Dimension int    `koanf:"dimension"`
}

// WebSearchConfig configures the Tavily web search provider.
type WebSearchConfig struct {
	Enabled     bool   `koanf:"enabled"`
	APIKey      string `koanf:"api_key"`
	BaseURL     string `koanf:"base_url"`
	SearchDepth string `koanf:"search_depth"`
	MaxResults  int    `koanf:"max_results"`
}

// SessionConfig selects the session store for parked clarifications.
type SessionConfig struct {
	Backend  string        `koanf:"backend"`
	TTL      time.Duration `koanf:"ttl"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	LockWait time.Duration `koanf:"lock_wait"`
	Redis    RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// FeedbackConfig selects the feedback store.
type FeedbackConfig struct {
	Backend string      `koanf:"backend"`
	Mongo   MongoConfig `koanf:"mongo"`
}

// MongoConfig configures the Mongo feedback store.
type MongoConfig struct {
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	CORSOrigins  []string      `koanf:"cors_origins"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Environment string  `koanf:"environment"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DefaultEngine returns the engine defaults.
func DefaultEngine() Engine {
	return Engine{
		RelevanceThreshold:    0.5,
		MinHighDocs:           1,
		SecondaryThreshold:    0.3,
		HighCutoff:            0.6,
		MediumCutoff:          0.3,
		EmbeddingThreshold:    0.3,
		EmbeddingWeight:       0.4,
		ClarityThreshold:      0.8,
		DisclaimerThreshold:   0.8,
		WebMinScore:           0.3,
		MaxRetries:            2,
		MaxHITL:               2,
		TopK:                  10,
		MaxConcurrentRequests: 10,
		Fanout:                4,
		MaxSubQueries:         4,
		ContentLimit:          2000,
		ContextTokens:         6000,
		RequestTimeout:        30 * time.Second,
		RetryAttempts:         3,
		RetryBase:             time.Second,
		RetryMax:              60 * time.Second,
		CacheTTL:              time.Hour,
	}
}

// Default returns a configuration that runs fully in memory.
func Default() *Config {
	return &Config{
		Engine: DefaultEngine(),
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o",
			Temperature: 0.1,
			MaxTokens:   2000,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Index: IndexConfig{
			Backend: BackendMemory,
			Postgres: PostgresConfig{
				Host:      "127.0.0.1",
				Port:      5432,
				User:      "postgres",
				DBName:    "crag",
				SSLMode:   "disable",
				Table:     "documents",
				Dimension: 1536,
			},
		},
		WebSearch: WebSearchConfig{
			Enabled:     true,
			BaseURL:     "https://api.tavily.com",
			SearchDepth: "advanced",
			MaxResults:  5,
		},
		Session: SessionConfig{
			Backend:  BackendMemory,
			TTL:      time.Hour,
			LockTTL:  2 * time.Minute,
			LockWait: 5 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "crag:session:",
			},
		},
		Feedback: FeedbackConfig{
			Backend: BackendMemory,
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "crag",
				Collection: "feedback",
			},
		},
		Server: ServerConfig{
			Addr:         ":8000",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
		Log:       LogConfig{Format: "json", Level: "info"},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CRAG_*). A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errorskg.Wrap(errorskg.KindConfiguration, "config", fmt.Errorf("reading config %s: %w", path, err))
			}
		} else if !os.IsNotExist(err) {
			return nil, errorskg.Wrap(errorskg.KindConfiguration, "config", fmt.Errorf("accessing config %s: %w", path, err))
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "config", fmt.Errorf("loading env overrides: %w", err))
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "config", fmt.Errorf("unmarshalling config: %w", err))
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks every section that the selected backends depend on.
func (c *Config) Validate() error {
	v := NewValidator()
	ValidateEngine(v, c.Engine)
	ValidateLLMConfig(v, c.LLM)

	v.ValidateOneOf("index.backend", c.Index.Backend, BackendMemory, BackendPostgres)
	if c.Index.Backend == BackendPostgres {
		ValidatePostgresConfig(v, c.Index.Postgres)
		v.Check(c.Index.Postgres.Dimension == c.Embedding.Dimension, "index.postgres.dimension", "must match embedding.dimension")
	}
	if c.Index.Backend == BackendPostgres || c.Index.SeedFile != "" {
		v.RequireNonEmpty("embedding.api_key", c.Embedding.APIKey)
		v.RequirePositive("embedding.dimension", c.Embedding.Dimension)
	}

	if c.WebSearch.Enabled {
		v.RequireNonEmpty("web_search.api_key", c.WebSearch.APIKey)
		v.ValidateOneOf("web_search.search_depth", c.WebSearch.SearchDepth, "basic", "advanced")
		v.ValidateRange("web_search.max_results", c.WebSearch.MaxResults, 1, 20)
	}

	v.ValidateOneOf("session.backend", c.Session.Backend, BackendMemory, BackendRedis)
	v.RequirePositiveDuration("session.ttl", c.Session.TTL)
	if c.Session.Backend == BackendRedis {
		ValidateRedisConfig(v, c.Session.Redis)
	}

	v.ValidateOneOf("feedback.backend", c.Feedback.Backend, BackendMemory, BackendMongo)
	if c.Feedback.Backend == BackendMongo {
		ValidateMongoDBConfig(v, c.Feedback.Mongo)
	}

	v.RequireNonEmpty("server.addr", c.Server.Addr)
	v.ValidateOneOf("log.format", c.Log.Format, "json", "text")
	return v.Error()
}
