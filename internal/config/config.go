package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Pools     PoolsConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	MaxConns int
}

type AuthConfig struct {
	Token string
}

type PoolConfig struct {
	Endpoint string
	Model    string
}

type PoolsConfig struct {
	Fast PoolConfig
	Big  PoolConfig
}

type EmbeddingConfig struct {
	Endpoint string
	Model    string
	Dim      int
}

type CacheConfig struct {
	SimilarityThreshold float64
}

type RetrievalConfig struct {
	TopK int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4400,
			MCPPort:  4401,
			MaxConns: 256,
		},
		Pools: PoolsConfig{
			Fast: PoolConfig{
				Endpoint: "http://localhost:11434",
				Model:    "llama3.2:3b",
			},
			Big: PoolConfig{
				Endpoint: "http://localhost:11434",
				Model:    "qwen2.5-coder:14b",
			},
		},
		Embedding: EmbeddingConfig{
			Endpoint: "http://localhost:11434",
			Model:    "nomic-embed-text",
			Dim:      768,
		},
		Cache: CacheConfig{
			SimilarityThreshold: 0.90,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             10,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/crossbar/config.yaml, then applies CROSSBAR_* environment
// overrides. The auth token is a secret and only comes from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b *fileBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Auth.Token == "" {
		return Config{}, fmt.Errorf("missing required config: auth token. Set it via environment variable CROSSBAR_AUTH_TOKEN")
	}
	if cfg.Cache.SimilarityThreshold <= 0 || cfg.Cache.SimilarityThreshold > 1 {
		return Config{}, fmt.Errorf("cache.similarity_threshold must be in (0, 1], got %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Embedding.Dim <= 0 {
		return Config{}, fmt.Errorf("embedding.dim must be positive, got %d", cfg.Embedding.Dim)
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "crossbar-data"
		}
	}
	return filepath.Join(dir, "crossbar")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "crossbar", "config.yaml")
}
