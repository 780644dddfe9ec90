package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// StoreConfig selects and configures the order store backend.
type StoreConfig struct {
	Backend         string // "firestore"|"redis"|"memory"
	CredentialsFile string
	ProjectID       string
	Collection      string
	RedisURL        string
}

// BridgeConfig selects and configures the file bridge.
type BridgeConfig struct {
	Kind      string // "http"|"s3"|"gcs"
	URL       string
	Secret    string
	S3Bucket  string
	GCSBucket string
	Timeout   time.Duration
}

// WorkerConfig defines orchestrator behavior and limits.
type WorkerConfig struct {
	ID           string
	RunOnce      bool
	OrderID      string
	PollInterval time.Duration
	BatchLimit   int
	RunWindow    time.Duration
	OrderWait    time.Duration
	ErrorBackoff time.Duration
	MetricsAddr  string
}

// RenderConfig holds rasterization resolutions.
type RenderConfig struct {
	AnalysisDPI int
	PreviewDPI  int
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Store   StoreConfig
	Bridge  BridgeConfig
	Worker  WorkerConfig
	Render  RenderConfig
	Port    string
}

// Load reads an optional .env file and then builds the configuration from the
// process environment. Variables already set in the environment win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_printquote",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Store = StoreConfig{
		Backend:         strings.ToLower(getEnv("ORDER_STORE", "firestore")),
		CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ProjectID:       getEnv("GOOGLE_CLOUD_PROJECT", ""),
		Collection:      getEnv("ORDERS_COLLECTION", "orders"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
	}

	cfg.Bridge = BridgeConfig{
		Kind:      strings.ToLower(getEnv("BRIDGE", "http")),
		URL:       getEnv("APPS_SCRIPT_URL", ""),
		Secret:    getEnv("WORKER_SECRET", ""),
		S3Bucket:  getEnv("AWS_S3_BUCKET", ""),
		GCSBucket: getEnv("GCS_BUCKET", ""),
		Timeout:   parseSeconds(getEnv("BRIDGE_TIMEOUT", "120"), 120*time.Second),
	}

	cfg.Worker = WorkerConfig{
		ID:           getEnv("WORKER_ID", "worker-"+uuid.NewString()[:8]),
		RunOnce:      parseBool(getEnv("RUN_ONCE", "0")),
		OrderID:      getEnv("ORDER_ID", ""),
		PollInterval: parseSeconds(getEnv("POLL_SECS", "4"), 4*time.Second),
		BatchLimit:   parseInt(getEnv("BATCH_LIMIT", "5"), 5),
		RunWindow:    parseSeconds(getEnv("RUN_WINDOW_SECS", "240"), 240*time.Second),
		OrderWait:    parseSeconds(getEnv("ORDER_WAIT_SECS", "10"), 10*time.Second),
		ErrorBackoff: parseSeconds(getEnv("ERROR_BACKOFF_SECS", "4"), 4*time.Second),
		MetricsAddr:  getEnv("METRICS_ADDR", ""),
	}

	cfg.Render = RenderConfig{
		AnalysisDPI: parseInt(getEnv("ANALYSIS_DPI", "200"), 200),
		PreviewDPI:  parseInt(getEnv("PREVIEW_DPI", "150"), 150),
	}

	cfg.Port = getEnv("PORT", "5000")
	return cfg
}

// getEnv trims values so that secrets pasted with a trailing newline or
// padding do not leak into URLs and headers.
func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// parseSeconds accepts either a plain number of seconds ("2.5") or a Go
// duration string ("2500ms").
func parseSeconds(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return parseDuration(s, def)
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
