package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"
)

const (
	DefaultServerAddr       = ":8080"
	DefaultRegistrySource   = "assistants.yaml"
	DefaultOutputDir        = "output"
	DefaultArchiveDir       = "archive"
	DefaultHistoryBackend   = "file"
	DefaultRetryMaxAttempts = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultKafkaBrokers     = "localhost:9092"
	DefaultRunRequestTopic  = "assistant_run_requests"
	DefaultRunResultTopic   = "assistant_run_results"
	DefaultGroupID          = "assistant-worker-group"
	DefaultArchiveS3Region  = "us-east-1"
	DefaultLogLevel         = "info"
	HistoryBackendFile      = "file"
	HistoryBackendSQL       = "sql"
)

// Config is the process configuration, read from the environment.
type Config struct {
	ServerAddr             string
	RegistrySource         string
	RegistryReloadInterval time.Duration
	OutputDir              string
	ArchiveDir             string
	HistoryBackend         string
	DBType                 string
	DBDSN                  string
	RetryMaxAttempts       int
	RetryDelay             time.Duration
	LogLevel               string
	Kafka                  KafkaConfig
	ArchiveS3              S3Config
}

type KafkaConfig struct {
	Brokers         []string
	RunRequestTopic string
	RunResultTopic  string
	GroupID         string
}

// S3Config configures the optional archive mirror. Enabled only when an
// endpoint and bucket are set.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		hlog.Warnf("Config: ignoring unreadable .env file: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		ServerAddr:     get("SERVER_ADDR", DefaultServerAddr),
		RegistrySource: get("REGISTRY_SOURCE", DefaultRegistrySource),
		OutputDir:      get("OUTPUT_DIR", DefaultOutputDir),
		ArchiveDir:     get("ARCHIVE_DIR", DefaultArchiveDir),
		HistoryBackend: strings.ToLower(get("HISTORY_BACKEND", DefaultHistoryBackend)),
		DBType:         get("DB_TYPE", "sqlite"),
		DBDSN:          get("DB_DSN", ""),
		LogLevel:       strings.ToLower(get("LOG_LEVEL", DefaultLogLevel)),
		Kafka: KafkaConfig{
			Brokers:         strings.Split(get("KAFKA_BROKERS", DefaultKafkaBrokers), ","),
			RunRequestTopic: get("RUN_REQUEST_TOPIC", DefaultRunRequestTopic),
			RunResultTopic:  get("RUN_RESULT_TOPIC", DefaultRunResultTopic),
			GroupID:         get("GROUP_ID", DefaultGroupID),
		},
		ArchiveS3: S3Config{
			Endpoint:  get("ARCHIVE_S3_ENDPOINT", ""),
			Region:    get("ARCHIVE_S3_REGION", DefaultArchiveS3Region),
			AccessKey: get("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: get("ARCHIVE_S3_SECRET_KEY", ""),
			Bucket:    get("ARCHIVE_S3_BUCKET", ""),
		},
	}

	var err error
	if cfg.RegistryReloadInterval, err = parseDuration(get("REGISTRY_RELOAD_INTERVAL", "0s")); err != nil {
		return nil, fmt.Errorf("invalid REGISTRY_RELOAD_INTERVAL: %w", err)
	}
	if cfg.RetryDelay, err = parseDuration(get("RETRY_DELAY", DefaultRetryDelay.String())); err != nil {
		return nil, fmt.Errorf("invalid RETRY_DELAY: %w", err)
	}
	if cfg.RetryMaxAttempts, err = strconv.Atoi(get("RETRY_MAX_ATTEMPTS", strconv.Itoa(DefaultRetryMaxAttempts))); err != nil {
		return nil, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: must be at least 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ArchiveS3.UseSSL, err = strconv.ParseBool(get("ARCHIVE_S3_USE_SSL", "false")); err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_S3_USE_SSL: %w", err)
	}
	switch cfg.HistoryBackend {
	case HistoryBackendFile, HistoryBackendSQL:
	default:
		return nil, fmt.Errorf("invalid HISTORY_BACKEND %q: want %q or %q", cfg.HistoryBackend, HistoryBackendFile, HistoryBackendSQL)
	}
	for i, b := range cfg.Kafka.Brokers {
		cfg.Kafka.Brokers[i] = strings.TrimSpace(b)
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// HlogLevel maps LogLevel onto hlog's levels. Unknown values mean info.
func (c *Config) HlogLevel() hlog.Level {
	switch c.LogLevel {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "warn", "warning":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
