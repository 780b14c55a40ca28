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
		key: "api.base_url", typ: kString, env: "SCRIBE_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.token", typ: kString, env: "SCRIBE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "poll.interval_seconds", typ: kInt, env: "SCRIBE_POLL_INTERVAL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Poll.IntervalSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.IntervalSeconds },
	},
	{
		key: "poll.retry_delay_seconds", typ: kInt, env: "SCRIBE_POLL_RETRY_DELAY_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Poll.RetryDelaySeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.RetryDelaySeconds },
	},
	{
		key: "poll.max_retries", typ: kInt, env: "SCRIBE_POLL_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxRetries },
	},
	{
		key: "server.stub_port", typ: kInt, env: "SCRIBE_SERVER_STUB_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.StubPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.StubPort },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCRIBE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SCRIBE_LOG_LEVEL",
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
		}
	}
}
