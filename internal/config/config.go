// Package config loads the closed configuration record described in
// spec §6. Unlike the teacher's TypeScript-originated config objects
// (arbitrary attribute access), Config is a fixed struct: unknown YAML
// keys are a startup error, realizing spec §9's redesign note.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/barnabee/core/internal/errs"
)

// Config is the full, enumerated configuration surface from spec §6.
type Config struct {
	SQLitePath                  string  `yaml:"sqlite_path"`
	SessionTTLSeconds           int     `yaml:"session_ttl_seconds"`
	EmbeddingModel               string  `yaml:"embedding_model"`
	EmbeddingDimension           int     `yaml:"embedding_dimension"`
	FastThreshold                float64 `yaml:"fast_threshold"`
	EmbeddingThreshold           float64 `yaml:"embedding_threshold"`
	LocalThreshold                float64 `yaml:"local_threshold"`
	LowConfidenceThreshold       float64 `yaml:"low_confidence_threshold"`
	SpeculativeConfidenceThresh  float64 `yaml:"speculative_confidence_threshold"`
	SpeculativeHeadStartMS       int     `yaml:"speculative_head_start_ms"`
	RequestDeadlineMS            int     `yaml:"request_deadline_ms"`
	ImprovementMonitoringHours   int     `yaml:"improvement_monitoring_hours"`
	RollbackAccuracyDrop         float64 `yaml:"rollback_accuracy_drop"`
	RollbackLatencyMS            int     `yaml:"rollback_latency_ms"`
	RollbackErrorRate            float64 `yaml:"rollback_error_rate"`
	ClusterSimilarity            float64 `yaml:"cluster_similarity"`
	ClusterMinSize                int     `yaml:"cluster_min_size"`
	ContextTokenBudget            int     `yaml:"context_token_budget"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	HomeAssistantURL   string `yaml:"home_assistant_url"`
	HomeAssistantToken string `yaml:"home_assistant_token"`

	LLMBaseURL string `yaml:"llm_base_url"`
	LLMAPIKey  string `yaml:"llm_api_key"`
	LLMModel   string `yaml:"llm_model"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config populated with the defaults named in spec §6.
func Default() Config {
	return Config{
		SQLitePath:                 "barnabee.db",
		SessionTTLSeconds:          1800,
		EmbeddingModel:             "text-embedding-3-small",
		EmbeddingDimension:         1536,
		FastThreshold:              0.95,
		EmbeddingThreshold:         0.85,
		LocalThreshold:             0.80,
		LowConfidenceThreshold:     0.70,
		SpeculativeConfidenceThresh: 0.98,
		SpeculativeHeadStartMS:     100,
		RequestDeadlineMS:          2000,
		ImprovementMonitoringHours: 24,
		RollbackAccuracyDrop:       0.02,
		RollbackLatencyMS:          50,
		RollbackErrorRate:          0.05,
		ClusterSimilarity:          0.85,
		ClusterMinSize:             3,
		ContextTokenBudget:         500,
		RedisAddr:                  "127.0.0.1:6379",
		LogLevel:                   "info",
	}
}

// Load reads a .env file (if present), then a YAML config file, applying
// strict decoding so unknown keys are a Configuration error.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errs.New(errs.KindConfiguration, "config.Load", "cannot open config file", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errs.New(errs.KindConfiguration, "config.Load", "invalid config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects an unusable configuration at startup.
func (c Config) Validate() error {
	if c.EmbeddingDimension <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "embedding_dimension must be positive", nil)
	}
	if c.SessionTTLSeconds <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "session_ttl_seconds must be positive", nil)
	}
	if c.RequestDeadlineMS <= 0 {
		return errs.New(errs.KindConfiguration, "config.Validate", "request_deadline_ms must be positive", nil)
	}
	for name, v := range map[string]float64{
		"fast_threshold":                    c.FastThreshold,
		"embedding_threshold":               c.EmbeddingThreshold,
		"local_threshold":                   c.LocalThreshold,
		"low_confidence_threshold":          c.LowConfidenceThreshold,
		"speculative_confidence_threshold":  c.SpeculativeConfidenceThresh,
	} {
		if v < 0 || v > 1 {
			return errs.New(errs.KindConfiguration, "config.Validate", fmt.Sprintf("%s must be in [0,1]", name), nil)
		}
	}
	return nil
}
