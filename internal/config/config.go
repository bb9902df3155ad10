// Package config loads the retrieval core's configuration from environment
// variables and an optional YAML file into a single immutable Config value,
// following apps/rag-loader/internal/config/config.go's viper-based layout.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete, immutable configuration for the retrieval core.
// It is constructed once at startup (Load) and passed by value/pointer to
// every subsystem constructor — no package reaches for a global.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Store     StoreConfig     `mapstructure:"store"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Debug     bool            `mapstructure:"debug"`
}

// CacheConfig configures the three-tier topic cache.
type CacheConfig struct {
	L1Capacity  int `mapstructure:"l1_capacity"`
	L2Capacity  int `mapstructure:"l2_capacity"`
	L3Capacity  int `mapstructure:"l3_capacity"`
	L2Threshold int `mapstructure:"l2_threshold"` // access_count to promote L2->L1
	L3Threshold int `mapstructure:"l3_threshold"` // access_count to promote L3->L2
}

// HistoryConfig configures the per-session semantic history buffer.
type HistoryConfig struct {
	MaxSize        int           `mapstructure:"max_size"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	SimThreshold   float64       `mapstructure:"sim_threshold"`
	EmbeddingDim   int           `mapstructure:"embedding_dim"`
}

// RetrievalConfig configures ANN fallback, reranking, and validation.
type RetrievalConfig struct {
	ANNTopK           int     `mapstructure:"ann_top_k"`
	RerankTopK        int     `mapstructure:"rerank_top_k"`
	MinRelevanceScore float64 `mapstructure:"min_relevance_score"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RerankMinScore    float64 `mapstructure:"rerank_min_score"`
}

// StoreConfig selects and configures the durable persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// GeneratorConfig configures the external LLM worker subprocess.
type GeneratorConfig struct {
	WorkerPath  string        `mapstructure:"worker_path"`
	ModelPath   string        `mapstructure:"model_path"`
	IPCTimeout  time.Duration `mapstructure:"ipc_timeout"`
	SystemPrompt string       `mapstructure:"system_prompt"`
}

const defaultSystemPrompt = `You are a factual Q&A assistant. Answer ONLY from the provided context.
STRICT RULES:
1. Use ONLY facts stated in the context below - nothing else.
2. Cite sources inline as [1], [2], etc.
3. If the context lacks sufficient information, say so plainly.
4. Be concise. Do NOT pad your answer.
5. NEVER invent or guess URLs, links, dates, statistics, or references.
6. Do NOT add References, Sources, Bibliography, or Citation sections.`

// Load reads configuration from environment variables (and an optional
// "retrieval-core.yaml" file on the usual search paths), applying defaults
// for anything unset.
func Load() (*Config, error) {
	viper.SetConfigName("retrieval-core")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/retrieval-core")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("cache.l1_capacity", 32)
	viper.SetDefault("cache.l2_capacity", 128)
	viper.SetDefault("cache.l3_capacity", 1024)
	viper.SetDefault("cache.l2_threshold", 8)
	viper.SetDefault("cache.l3_threshold", 3)

	viper.SetDefault("history.max_size", 32)
	viper.SetDefault("history.max_age", "3600s")
	viper.SetDefault("history.sim_threshold", 0.80)
	viper.SetDefault("history.embedding_dim", 384)

	viper.SetDefault("retrieval.ann_top_k", 5)
	viper.SetDefault("retrieval.rerank_top_k", 5)
	viper.SetDefault("retrieval.min_relevance_score", 0.15)
	viper.SetDefault("retrieval.max_retries", 2)
	viper.SetDefault("retrieval.rerank_min_score", 0.3)

	viper.SetDefault("store.driver", "memory")

	viper.SetDefault("generator.ipc_timeout", "120s")
	viper.SetDefault("generator.system_prompt", defaultSystemPrompt)

	viper.SetDefault("debug", false)
}

func bindEnvVars() {
	viper.AutomaticEnv()

	_ = viper.BindEnv("cache.l1_capacity", "L1_CAPACITY")
	_ = viper.BindEnv("cache.l2_capacity", "L2_CAPACITY")
	_ = viper.BindEnv("cache.l3_capacity", "L3_CAPACITY")
	_ = viper.BindEnv("cache.l2_threshold", "L2_THRESHOLD")
	_ = viper.BindEnv("cache.l3_threshold", "L3_THRESHOLD")

	_ = viper.BindEnv("history.max_size", "HISTORY_MAX_SIZE")
	_ = viper.BindEnv("history.max_age", "HISTORY_MAX_AGE_S")
	_ = viper.BindEnv("history.sim_threshold", "HISTORY_SIM_THRESHOLD")
	_ = viper.BindEnv("history.embedding_dim", "EMBED_DIM")

	_ = viper.BindEnv("retrieval.ann_top_k", "ANN_TOP_K")
	_ = viper.BindEnv("retrieval.rerank_top_k", "RERANK_TOP_K")
	_ = viper.BindEnv("retrieval.min_relevance_score", "MIN_RELEVANCE_SCORE")
	_ = viper.BindEnv("retrieval.max_retries", "MAX_RETRIES")

	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("store.dsn", "STORE_DSN")

	_ = viper.BindEnv("generator.worker_path", "GENERATOR_WORKER_PATH")
	_ = viper.BindEnv("generator.model_path", "GENERATOR_MODEL_PATH")
}

func validate(cfg *Config) error {
	if cfg.Cache.L1Capacity <= 0 || cfg.Cache.L2Capacity <= 0 || cfg.Cache.L3Capacity <= 0 {
		return fmt.Errorf("cache tier capacities must all be positive")
	}
	if cfg.History.MaxSize <= 0 {
		return fmt.Errorf("history.max_size must be positive")
	}
	if cfg.Retrieval.MaxRetries < 0 {
		return fmt.Errorf("retrieval.max_retries must be non-negative")
	}
	return nil
}
