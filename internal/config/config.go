package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/openscribe/console/internal/poll"
)

type Config struct {
	API     APIConfig
	Poll    PollConfig
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
}

type PollConfig struct {
	IntervalSeconds   int
	RetryDelaySeconds int
	MaxRetries        int
}

type ServerConfig struct {
	StubPort int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8818",
		},
		Poll: PollConfig{
			IntervalSeconds:   6,
			RetryDelaySeconds: 5,
			MaxRetries:        3,
		},
		Server: ServerConfig{
			StubPort: 8818,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.openscribe.scribe) and
// the API token falls back to macOS Keychain. On Linux the backend is a JSON
// file at $XDG_CONFIG_HOME/scribe/config.json.
//
// Environment variables (SCRIBE_*) override backend values on all platforms.
// The API token is a secret: it is never written to the backend and is read
// from SCRIBE_API_TOKEN (or the platform secret store). Load does not fail
// when the token is absent; commands that talk to the remote service check
// for it themselves so local-only commands keep working.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts platform secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		if token, err := kc.Get("scribe", "api_token"); err == nil && token != "" {
			cfg.API.Token = token
		}
	}

	return cfg, nil
}

// PollSettings converts the configured cadence to the scheduler's form.
func (c Config) PollSettings() poll.Config {
	return poll.Config{
		Interval:   time.Duration(c.Poll.IntervalSeconds) * time.Second,
		RetryDelay: time.Duration(c.Poll.RetryDelaySeconds) * time.Second,
		MaxRetries: c.Poll.MaxRetries,
	}
}

// LogLevel parses the configured log level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
