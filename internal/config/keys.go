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
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CROSSBAR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "CROSSBAR_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.max_conns", typ: kInt, env: "CROSSBAR_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "auth.token", typ: kString, env: "CROSSBAR_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
	{
		key: "pools.fast.endpoint", typ: kString, env: "CROSSBAR_POOLS_FAST_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Pools.Fast.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Pools.Fast.Endpoint },
	},
	{
		key: "pools.fast.model", typ: kString, env: "CROSSBAR_POOLS_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Pools.Fast.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Pools.Fast.Model },
	},
	{
		key: "pools.big.endpoint", typ: kString, env: "CROSSBAR_POOLS_BIG_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Pools.Big.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Pools.Big.Endpoint },
	},
	{
		key: "pools.big.model", typ: kString, env: "CROSSBAR_POOLS_BIG_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Pools.Big.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Pools.Big.Model },
	},
	{
		key: "embedding.endpoint", typ: kString, env: "CROSSBAR_EMBEDDING_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Endpoint },
	},
	{
		key: "embedding.model", typ: kString, env: "CROSSBAR_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dim", typ: kInt, env: "CROSSBAR_EMBEDDING_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dim },
	},
	{
		key: "cache.similarity_threshold", typ: kFloat, env: "CROSSBAR_CACHE_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.SimilarityThreshold },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "CROSSBAR_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "ratelimit.requests_per_second", typ: kFloat, env: "CROSSBAR_RATELIMIT_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.RateLimit.RequestsPerSecond },
	},
	{
		key: "ratelimit.burst", typ: kInt, env: "CROSSBAR_RATELIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.Burst },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CROSSBAR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CROSSBAR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b *fileBackend) error {
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
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
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
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
