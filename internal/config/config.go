package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay processes.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	CAPI      CAPIConfig      `yaml:"capi"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Queue     QueueConfig     `yaml:"queue"`
	Sink      SinkConfig      `yaml:"sink"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Ingest    IngestConfig    `yaml:"ingest"`
	AWS       AWSConfig       `yaml:"aws"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
	CORSOrigins         []string `yaml:"cors_origins"`
	DisguisePrefix      string   `yaml:"disguise_prefix"`
	CookieDomain        string   `yaml:"cookie_domain"`
	CookieMaxAgeDays    int      `yaml:"cookie_max_age_days"`
	EmbedWorkers        bool     `yaml:"embed_workers"`
}

// GetHost returns the listen host. Containers always bind all interfaces.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// CookieMaxAge is the lifetime of re-issued first-party cookies.
func (c ServerConfig) CookieMaxAge() time.Duration {
	return time.Duration(c.CookieMaxAgeDays) * 24 * time.Hour
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig is optional; an empty URL disables Redis-backed locks and queue.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CAPIConfig configures the advertising platform's conversions API.
type CAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIVersion     string `yaml:"api_version"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (c CAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PipelineConfig tunes admission and dispatch.
type PipelineConfig struct {
	MinMatchQuality      int    `yaml:"min_match_quality"`
	ChunkSize            int    `yaml:"chunk_size"`
	MaxAttempts          int    `yaml:"max_attempts"`
	ProfileListCap       int    `yaml:"profile_list_cap"`
	ProfileScope         string `yaml:"profile_scope"`
	DOBMinYear           int    `yaml:"dob_min_year"`
	DispatchConcurrency  int    `yaml:"dispatch_concurrency"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	LockTTLSeconds       int    `yaml:"lock_ttl_seconds"`
	MaxBatchEvents       int    `yaml:"max_batch_events"`
	MaxEventAgeHours     int    `yaml:"max_event_age_hours"`
	FutureSkewSeconds    int    `yaml:"future_skew_seconds"`
}

func (c PipelineConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c PipelineConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// MaxEventAge is the oldest event_time still admitted.
func (c PipelineConfig) MaxEventAge() time.Duration {
	return time.Duration(c.MaxEventAgeHours) * time.Hour
}

// FutureSkew is how far ahead of the server clock event_time may be.
func (c PipelineConfig) FutureSkew() time.Duration {
	return time.Duration(c.FutureSkewSeconds) * time.Second
}

// GlobalProfiles reports whether new profiles are created without a channel.
func (c PipelineConfig) GlobalProfiles() bool {
	return strings.EqualFold(c.ProfileScope, "global")
}

// QueueConfig selects the dispatch task queue driver: redis, sqs or memory.
type QueueConfig struct {
	Driver  string `yaml:"driver"`
	Key     string `yaml:"key"`
	SQSURL  string `yaml:"sqs_url"`
	Region  string `yaml:"region"`
	Workers int    `yaml:"workers"`
}

// SinkConfig selects the analytics sink: s3, file or log.
type SinkConfig struct {
	Driver               string `yaml:"driver"`
	Bucket               string `yaml:"bucket"`
	Dir                  string `yaml:"dir"`
	Prefix               string `yaml:"prefix"`
	Region               string `yaml:"region"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds"`
	MaxBatch             int    `yaml:"max_batch"`
}

func (c SinkConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// RateLimitConfig caps ingestion requests per client IP.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// BreakerConfig configures the per-channel circuit breaker around the conversions API.
type BreakerConfig struct {
	MaxRequests     uint32  `yaml:"max_requests"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	FailureRatio    float64 `yaml:"failure_ratio"`
	MinRequests     uint32  `yaml:"min_requests"`
}

func (c BreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c BreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AWSConfig selects credentials for SQS and S3. Empty fields fall back to
// the SDK's default chain (environment, shared config, instance role).
type AWSConfig struct {
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// IngestConfig lists accepted ingestion API keys. An empty list disables the check.
type IngestConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied, for processes
// started without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 5
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 10
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 120
	}
	if cfg.Server.DisguisePrefix == "" {
		cfg.Server.DisguisePrefix = "/static/assets"
	}
	if cfg.Server.CookieMaxAgeDays == 0 {
		cfg.Server.CookieMaxAgeDays = 390
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.CAPI.BaseURL == "" {
		cfg.CAPI.BaseURL = "https://graph.facebook.com"
	}
	if cfg.CAPI.APIVersion == "" {
		cfg.CAPI.APIVersion = "v18.0"
	}
	if cfg.CAPI.TimeoutSeconds == 0 {
		cfg.CAPI.TimeoutSeconds = 30
	}
	if cfg.CAPI.MaxRetries == 0 {
		cfg.CAPI.MaxRetries = 2
	}
	if cfg.Pipeline.ChunkSize <= 0 || cfg.Pipeline.ChunkSize > 1000 {
		cfg.Pipeline.ChunkSize = 1000
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.ProfileListCap == 0 {
		cfg.Pipeline.ProfileListCap = 10
	}
	if cfg.Pipeline.ProfileScope == "" {
		cfg.Pipeline.ProfileScope = "channel"
	}
	if cfg.Pipeline.DOBMinYear == 0 {
		cfg.Pipeline.DOBMinYear = 1900
	}
	if cfg.Pipeline.DispatchConcurrency == 0 {
		cfg.Pipeline.DispatchConcurrency = 4
	}
	if cfg.Pipeline.SweepIntervalSeconds == 0 {
		cfg.Pipeline.SweepIntervalSeconds = 60
	}
	if cfg.Pipeline.LockTTLSeconds == 0 {
		cfg.Pipeline.LockTTLSeconds = 120
	}
	if cfg.Pipeline.MaxBatchEvents == 0 {
		cfg.Pipeline.MaxBatchEvents = 1000
	}
	if cfg.Pipeline.MaxEventAgeHours == 0 {
		cfg.Pipeline.MaxEventAgeHours = 7 * 24
	}
	if cfg.Pipeline.FutureSkewSeconds == 0 {
		cfg.Pipeline.FutureSkewSeconds = 300
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "memory"
	}
	if cfg.Queue.Key == "" {
		cfg.Queue.Key = "pixelrelay:dispatch"
	}
	if cfg.Queue.Region == "" {
		cfg.Queue.Region = "us-east-1"
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Sink.Driver == "" {
		cfg.Sink.Driver = "log"
	}
	if cfg.Sink.Prefix == "" {
		cfg.Sink.Prefix = "events"
	}
	if cfg.Sink.Region == "" {
		cfg.Sink.Region = "us-east-1"
	}
	if cfg.Sink.FlushIntervalSeconds == 0 {
		cfg.Sink.FlushIntervalSeconds = 30
	}
	if cfg.Sink.MaxBatch == 0 {
		cfg.Sink.MaxBatch = 500
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 600
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 3
	}
	if cfg.Breaker.IntervalSeconds == 0 {
		cfg.Breaker.IntervalSeconds = 60
	}
	if cfg.Breaker.TimeoutSeconds == 0 {
		cfg.Breaker.TimeoutSeconds = 120
	}
	if cfg.Breaker.FailureRatio == 0 {
		cfg.Breaker.FailureRatio = 0.6
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = 5
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is read first if present. An empty path skips the YAML file.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CAPI_BASE_URL"); v != "" {
		cfg.CAPI.BaseURL = v
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.Queue.Driver = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.Queue.SQSURL = v
	}
	if v := os.Getenv("SINK_BUCKET"); v != "" {
		cfg.Sink.Bucket = v
		cfg.Sink.Driver = "s3"
	}
	if v := os.Getenv("MIN_MATCH_QUALITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MinMatchQuality = n
		}
	}
	if v := os.Getenv("INGEST_API_KEYS"); v != "" {
		cfg.Ingest.APIKeys = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
