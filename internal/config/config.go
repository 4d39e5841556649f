// Package config provides the configuration structure for the tts-gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Model backends.
const (
	BackendHTTP    = "http"
	BackendCommand = "command"
)

const (
	maxPort    = 65535
	bytesPerMB = 1 << 20

	// MaxBatchItems is the largest batch the API accepts.
	MaxBatchItems = 10

	defaultModelTimeoutSeconds = 300
	writeTimeoutSlackSeconds   = 60
)

// Environment overrides.
const (
	envPort      = "TTS_PORT"
	envAPIKey    = "TTS_API_KEY"
	envAuth      = "TTS_ENABLE_AUTH"
	envSecretKey = "TTS_SECRET_KEY"
	envDataDir   = "TTS_DATA_DIR"
	envVoicesDir = "TTS_VOICES_DIR"
	envOutputs   = "TTS_OUTPUTS_DIR"
	envLogsDir   = "TTS_LOGS_DIR"
	envModelURL  = "TTS_MODEL_URL"
)

var (
	// ErrInvalidPort indicates the listen port is outside 1..65535.
	ErrInvalidPort = errors.New("server port must be between 1 and 65535")
	// ErrCloneRange indicates min_duration is not below max_duration.
	ErrCloneRange = errors.New("clone min_duration must be positive and not exceed max_duration")
	// ErrMissingSecret indicates auth is enabled without a signing secret.
	ErrMissingSecret = errors.New("auth.secret_key is required when auth is enabled")
	// ErrUnknownBackend indicates an unsupported model backend.
	ErrUnknownBackend = errors.New("unknown model backend")
	// ErrMissingModelTarget indicates the backend has nothing to talk to.
	ErrMissingModelTarget = errors.New("model backend target is empty")
	// ErrWriteTimeout indicates the HTTP write deadline cannot cover a full batch.
	ErrWriteTimeout = errors.New("server write_timeout_seconds is shorter than a full batch")
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	APIPrefix              string   `toml:"api_prefix"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	MetricsAddr            string   `toml:"metrics_addr"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
	RateLimitRPS           float64  `toml:"rate_limit_rps"`
	RateLimitBurst         int      `toml:"rate_limit_burst"`
	MaxUploadMB            int      `toml:"max_upload_mb"`
}

// AuthConfig holds the access gate configuration.
type AuthConfig struct {
	Enabled         bool   `toml:"enabled"`
	APIKey          string `toml:"api_key"`
	SecretKey       string `toml:"secret_key"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	DataDir          string `toml:"data_dir"`
	VoicesDir        string `toml:"voices_dir"`
	OutputsDir       string `toml:"outputs_dir"`
	BaseLogsDir      string `toml:"base_logs_dir"`
	OutputsURLPrefix string `toml:"outputs_url_prefix"`
}

// ModelConfig holds the synthesis delegate configuration and generation defaults.
type ModelConfig struct {
	Backend              string  `toml:"backend"`
	ServiceURL           string  `toml:"service_url"`
	BinaryPath           string  `toml:"binary_path"`
	ModelName            string  `toml:"model_name"`
	MaxNewTokens         int     `toml:"max_new_tokens"`
	Temperature          float64 `toml:"temperature"`
	GuidanceScale        float64 `toml:"guidance_scale"`
	TopP                 float64 `toml:"top_p"`
	TopK                 int     `toml:"top_k"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
	MaxConcurrent        int64   `toml:"max_concurrent"`
	ProbeIntervalSeconds int     `toml:"probe_interval_seconds"`
	NormalizeText        bool    `toml:"normalize_text"`
}

// CloneConfig bounds the reference clip length, in seconds.
type CloneConfig struct {
	MinDuration float64 `toml:"min_duration"`
	MaxDuration float64 `toml:"max_duration"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Paths  PathsConfig  `toml:"paths"`
	Model  ModelConfig  `toml:"model"`
	Clone  CloneConfig  `toml:"clone"`
	NATS   NATSConfig   `toml:"nats"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   4144,
			APIPrefix:              "/api/v1",
			ReadTimeoutSeconds:     60,
			WriteTimeoutSeconds:    MaxBatchItems*defaultModelTimeoutSeconds + writeTimeoutSlackSeconds,
			ShutdownTimeoutSeconds: 30,
			MetricsAddr:            "",
			CORSAllowedOrigins:     []string{"*"},
			RateLimitRPS:           0,
			RateLimitBurst:         0,
			MaxUploadMB:            25,
		},
		Auth: AuthConfig{
			Enabled:         false,
			APIKey:          "default_key_change_in_production",
			SecretKey:       "your-secret-key-change-in-production",
			TokenTTLMinutes: 60 * 24,
		},
		Paths: PathsConfig{
			DataDir:          "/app/data",
			VoicesDir:        "/app/voices",
			OutputsDir:       "/app/outputs",
			BaseLogsDir:      "/app/logs",
			OutputsURLPrefix: "/outputs",
		},
		Model: ModelConfig{
			Backend:              BackendHTTP,
			ServiceURL:           "http://127.0.0.1:8000",
			BinaryPath:           "",
			ModelName:            "nari-labs/Dia-1.6B-0626",
			MaxNewTokens:         3072,
			Temperature:          1.8,
			GuidanceScale:        3.0,
			TopP:                 0.90,
			TopK:                 45,
			TimeoutSeconds:       defaultModelTimeoutSeconds,
			MaxConcurrent:        1,
			ProbeIntervalSeconds: 15,
			NormalizeText:        false,
		},
		Clone: CloneConfig{
			MinDuration: 5,
			MaxDuration: 10,
		},
		NATS: NATSConfig{
			Enabled:                  false,
			URL:                      "nats://127.0.0.1:4222",
			TextProcessedSubject:     "text.processed",
			AudioChunkCreatedSubject: "audio.chunk.created",
			AudioObjectStoreBucket:   "AUDIO_FILES",
			TextObjectStoreBucket:    "TEXT_FILES",
		},
	}
}

// Load loads the configuration through the central configurator, then applies
// .env and environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg, log)
}

// LoadFile loads the configuration from a TOML file on disk, then applies
// .env and environment overrides.
func LoadFile(path string, log *logger.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(&cfg, log)
}

func finish(cfg *Config, log *logger.Logger) (*Config, error) {
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn("Ignoring unreadable .env file: %v", envErr)
	}

	err := cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides selected fields from the environment. lookup has the
// signature of os.LookupEnv so tests can supply a map.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envPort, v, err)
		}

		c.Server.Port = port
	}

	if v, ok := lookup(envAuth); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envAuth, v, err)
		}

		c.Auth.Enabled = enabled
	}

	strOverrides := []struct {
		key    string
		target *string
	}{
		{envAPIKey, &c.Auth.APIKey},
		{envSecretKey, &c.Auth.SecretKey},
		{envDataDir, &c.Paths.DataDir},
		{envVoicesDir, &c.Paths.VoicesDir},
		{envOutputs, &c.Paths.OutputsDir},
		{envLogsDir, &c.Paths.BaseLogsDir},
		{envModelURL, &c.Model.ServiceURL},
	}

	for _, o := range strOverrides {
		if v, ok := lookup(o.key); ok {
			*o.target = v
		}
	}

	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.Clone.MinDuration <= 0 || c.Clone.MinDuration > c.Clone.MaxDuration {
		return fmt.Errorf("%w: got [%.2f, %.2f]", ErrCloneRange, c.Clone.MinDuration, c.Clone.MaxDuration)
	}

	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		return ErrMissingSecret
	}

	// Zero disables either deadline. Otherwise a batch runs up to
	// MaxBatchItems syntheses inside one response.
	batchBudget := MaxBatchItems * c.Model.TimeoutSeconds
	if c.Server.WriteTimeoutSeconds > 0 && c.Model.TimeoutSeconds > 0 && c.Server.WriteTimeoutSeconds < batchBudget {
		return fmt.Errorf("%w: got %ds, need at least %ds (%d items x model.timeout_seconds %d)",
			ErrWriteTimeout, c.Server.WriteTimeoutSeconds, batchBudget, MaxBatchItems, c.Model.TimeoutSeconds)
	}

	switch c.Model.Backend {
	case BackendHTTP:
		if c.Model.ServiceURL == "" {
			return fmt.Errorf("%w: model.service_url", ErrMissingModelTarget)
		}
	case BackendCommand:
		if c.Model.BinaryPath == "" {
			return fmt.Errorf("%w: model.binary_path", ErrMissingModelTarget)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Model.Backend)
	}

	return nil
}

// EnsureDirectories creates every directory the service writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.VoicesDir, c.Paths.OutputsDir, c.Paths.BaseLogsDir} {
		if dir == "" {
			continue
		}

		err := ttsutils.EnsureDir(dir)
		if err != nil {
			return err
		}
	}

	return nil
}

// Addr returns the host:port the API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RegistryPath returns the location of the voice registry document.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Paths.VoicesDir, "voices_db.json")
}

// APIPrefix returns the API prefix without a trailing slash.
func (c *Config) APIPrefix() string {
	return strings.TrimRight(c.Server.APIPrefix, "/")
}

// SynthesisTimeout returns the upper bound on one delegate call.
func (m ModelConfig) SynthesisTimeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// ProbeInterval returns the delay between engine readiness probes.
func (m ModelConfig) ProbeInterval() time.Duration {
	return time.Duration(m.ProbeIntervalSeconds) * time.Second
}

// TokenTTL returns the lifetime of issued signed tokens.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// MaxUploadBytes returns the multipart body limit for clone uploads.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) * bytesPerMB
}

// ReadTimeout returns the HTTP server read timeout.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP server write timeout.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}
