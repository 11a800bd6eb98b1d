package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so config files can use "30s" style values;
// yaml.v2 cannot decode those into time.Duration directly.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Memory   MemoryConfig   `yaml:"memory"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Database        string   `yaml:"database"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	// ProviderOrder lists provider names by priority, e.g. ["ollama", "openai"]
	// for local-first with cloud fallback.
	ProviderOrder []string     `yaml:"provider_order"`
	OpenAI        OpenAIConfig `yaml:"openai"`
	Ollama        OllamaConfig `yaml:"ollama"`
}

type OpenAIConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	EmbeddingModel string   `yaml:"embedding_model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    float64  `yaml:"temperature"`
	Timeout        Duration `yaml:"timeout"`
}

type OllamaConfig struct {
	Host           string   `yaml:"host"`
	Model          string   `yaml:"model"`
	EmbeddingModel string   `yaml:"embedding_model"`
	Timeout        Duration `yaml:"timeout"`
}

type MemoryConfig struct {
	Cache    CacheConfig    `yaml:"cache"`
	Capture  CaptureConfig  `yaml:"capture"`
	Search   SearchConfig   `yaml:"search"`
	Assembly AssemblyConfig `yaml:"assembly"`
}

type CacheConfig struct {
	MaxSize   int      `yaml:"max_size"`
	TTL       Duration `yaml:"ttl"`
	BatchSize int      `yaml:"batch_size"`
}

type CaptureConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
	QueueSize     int      `yaml:"queue_size"`
}

type SearchConfig struct {
	DefaultLimit int     `yaml:"default_limit"`
	MinScore     float64 `yaml:"min_score"`
	GroupLimit   int     `yaml:"group_limit"`
}

type AssemblyConfig struct {
	MaxItemsPerSection int  `yaml:"max_items_per_section"`
	MaxItemLength      int  `yaml:"max_item_length"`
	IncludeEntities    bool `yaml:"include_entities"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.OpenAI.APIKey = apiKey
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.AI.Ollama.Host = host
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Database.Qdrant.APIKey = apiKey
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.AI.ProviderOrder) == 0 {
		c.AI.ProviderOrder = []string{"ollama", "openai"}
	}
	if c.Memory.Cache.MaxSize == 0 {
		c.Memory.Cache.MaxSize = 10000
	}
	if c.Memory.Cache.TTL == 0 {
		c.Memory.Cache.TTL = Duration(24 * time.Hour)
	}
	if c.Memory.Cache.BatchSize == 0 {
		c.Memory.Cache.BatchSize = 64
	}
	if c.Memory.Capture.BatchSize == 0 {
		c.Memory.Capture.BatchSize = 16
	}
	if c.Memory.Capture.FlushInterval == 0 {
		c.Memory.Capture.FlushInterval = Duration(5 * time.Second)
	}
	if c.Memory.Capture.QueueSize == 0 {
		c.Memory.Capture.QueueSize = 1024
	}
	if c.Memory.Search.DefaultLimit == 0 {
		c.Memory.Search.DefaultLimit = 10
	}
	if c.Memory.Search.MinScore == 0 {
		c.Memory.Search.MinScore = 0.3
	}
	if c.Memory.Search.GroupLimit == 0 {
		c.Memory.Search.GroupLimit = 3
	}
	if c.Memory.Assembly.MaxItemsPerSection == 0 {
		c.Memory.Assembly.MaxItemsPerSection = 3
	}
	if c.Memory.Assembly.MaxItemLength == 0 {
		c.Memory.Assembly.MaxItemLength = 240
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "memories"
	}
	if c.Database.Qdrant.VectorSize == 0 {
		c.Database.Qdrant.VectorSize = 1536
	}
}
