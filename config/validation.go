package config

import (
	"fmt"
	"strings"
	"time"

	errorskg "github.com/sweetpotato0/crag/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects field errors; every check returns the validator for chaining.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) add(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequireNonEmpty validates that a string field is not blank
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "value cannot be empty")
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, "value must be positive, got %d", value)
	}
	return v
}

// RequirePositiveDuration validates that a duration is greater than 0
func (v *Validator) RequirePositiveDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, "duration must be positive, got %s", value)
	}
	return v
}

// ValidateRange validates that an integer field is within [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, "value must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// ValidateFloatRange validates that a float field is within [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.add(field, "value must be between %.2f and %.2f, got %.2f", min, max, value)
	}
	return v
}

// ValidateScore validates a threshold expressed on the [0,1] score scale
func (v *Validator) ValidateScore(field string, value float64) *Validator {
	return v.ValidateFloatRange(field, value, 0, 1)
}

// ValidatePort validates that a port number is valid (1-65535)
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.add(field, "value must be one of %v, got %q", allowed, value)
}

// Check records message against field when ok is false.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		return v.add(field, "%s", message)
	}
	return v
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a configuration_error listing every failed field, or nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, e := range v.errors {
		fmt.Fprintf(&b, "\n  - %s: %s", e.Field, e.Message)
	}
	return errorskg.New(errorskg.KindConfiguration, "config", b.String())
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ValidatePostgresConfig validates the pgvector index connection.
func ValidatePostgresConfig(v *Validator, pg PostgresConfig) {
	v.RequireNonEmpty("index.postgres.host", pg.Host)
	v.ValidatePort("index.postgres.port", pg.Port)
	v.RequireNonEmpty("index.postgres.user", pg.User)
	v.RequireNonEmpty("index.postgres.db_name", pg.DBName)
	v.ValidateOneOf("index.postgres.ssl_mode", pg.SSLMode, "disable", "require", "verify-ca", "verify-full")
	v.ValidateRange("index.postgres.dimension", pg.Dimension, 1, 65535)
	v.RequireNonEmpty("index.postgres.table", pg.Table)
}

// ValidateRedisConfig validates the Redis session store.
func ValidateRedisConfig(v *Validator, r RedisConfig) {
	v.RequireNonEmpty("session.redis.addr", r.Addr)
	v.ValidateDBNumber("session.redis.db", r.DB)
	v.RequireNonEmpty("session.redis.prefix", r.Prefix)
}

// ValidateMongoDBConfig validates the Mongo feedback store.
func ValidateMongoDBConfig(v *Validator, m MongoConfig) {
	v.RequireNonEmpty("feedback.mongo.uri", m.URI)
	v.RequireNonEmpty("feedback.mongo.database", m.Database)
	v.RequireNonEmpty("feedback.mongo.collection", m.Collection)
}

// ValidateLLMConfig validates the language-model provider settings.
func ValidateLLMConfig(v *Validator, l LLMConfig) {
	v.ValidateOneOf("llm.provider", l.Provider, ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderGroq, ProviderCohere)
	v.RequireNonEmpty("llm.api_key", l.APIKey)
	v.RequireNonEmpty("llm.model", l.Model)
	v.ValidateFloatRange("llm.temperature", l.Temperature, 0.0, 2.0)
	v.RequirePositive("llm.max_tokens", l.MaxTokens)
}

// ValidateEngine validates thresholds and caps of the orchestration engine.
func ValidateEngine(v *Validator, e Engine) {
	v.ValidateScore("engine.relevance_threshold", e.RelevanceThreshold)
	v.ValidateScore("engine.secondary_threshold", e.SecondaryThreshold)
	v.ValidateScore("engine.high_cutoff", e.HighCutoff)
	v.ValidateScore("engine.medium_cutoff", e.MediumCutoff)
	v.ValidateScore("engine.embedding_threshold", e.EmbeddingThreshold)
	v.ValidateScore("engine.embedding_weight", e.EmbeddingWeight)
	v.ValidateScore("engine.clarity_threshold", e.ClarityThreshold)
	v.ValidateScore("engine.disclaimer_threshold", e.DisclaimerThreshold)
	v.Check(e.MediumCutoff <= e.HighCutoff, "engine.medium_cutoff", "must not exceed engine.high_cutoff")
	v.RequirePositive("engine.min_high_docs", e.MinHighDocs)
	v.ValidateRange("engine.max_retries", e.MaxRetries, 0, 10)
	v.ValidateRange("engine.max_hitl", e.MaxHITL, 0, 10)
	v.ValidateRange("engine.top_k", e.TopK, 1, 100)
	v.RequirePositive("engine.max_concurrent_requests", e.MaxConcurrentRequests)
	v.RequirePositive("engine.fanout", e.Fanout)
	v.RequirePositive("engine.content_limit", e.ContentLimit)
	v.RequirePositiveDuration("engine.request_timeout", e.RequestTimeout)
	v.Check(e.RetryAttempts > 0, "engine.retry_attempts", "must be positive")
}
