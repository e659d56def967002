package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the dayflow server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string `yaml:"mode"`
	// Addr is the binding address for server
	Addr string `yaml:"addr"`
	// Port is the binding port for server
	Port int `yaml:"port"`
	// Data is the data directory
	Data string `yaml:"data"`
	// DSN points to where dayflow stores its tasks
	DSN string `yaml:"dsn"`
	// Driver is the database driver (sqlite or postgres)
	Driver string `yaml:"driver"`
	// Version is the current version of server
	Version string `yaml:"version"`
	// Secret signs and verifies bearer tokens.
	Secret string `yaml:"-"`

	LogLevel  string `yaml:"log_level"`  // DAYFLOW_LOG_LEVEL (default: info)
	LogFormat string `yaml:"log_format"` // DAYFLOW_LOG_FORMAT text|json (default: text)

	// Cache configuration
	CacheBackend        string        `yaml:"cache_backend"`          // DAYFLOW_CACHE_BACKEND memory|file|tiered (default: memory)
	CacheDir            string        `yaml:"cache_dir"`              // DAYFLOW_CACHE_DIR (default: <data>/cache)
	TaskCacheMaxEntries int           `yaml:"task_cache_max_entries"` // DAYFLOW_TASK_CACHE_MAX_ENTRIES (default: 31)
	TaskCacheTTL        time.Duration `yaml:"task_cache_ttl"`         // DAYFLOW_TASK_CACHE_TTL (default: 10m)

	// Recommendation configuration
	RecommendTTL           time.Duration `yaml:"recommend_ttl"`            // DAYFLOW_RECOMMEND_TTL (default: 5m)
	RecommendMaxEntries    int           `yaml:"recommend_max_entries"`    // DAYFLOW_RECOMMEND_MAX_ENTRIES (default: 16)
	RecommendCount         int           `yaml:"recommend_count"`          // DAYFLOW_RECOMMEND_COUNT (default: 3)
	RecommendEnergyDrift   int           `yaml:"recommend_energy_drift"`   // DAYFLOW_RECOMMEND_ENERGY_DRIFT (default: 2)
	RecommendTimeDrift     int           `yaml:"recommend_time_drift"`     // DAYFLOW_RECOMMEND_TIME_DRIFT minutes (default: 30)
	RecommendRemoteTimeout time.Duration `yaml:"recommend_remote_timeout"` // DAYFLOW_RECOMMEND_REMOTE_TIMEOUT (default: 8s)

	// Remote recommender configuration
	AIProvider string `yaml:"ai_provider"` // DAYFLOW_AI_PROVIDER none|openai|gemini (default: none)
	AIAPIKey   string `yaml:"-"`           // DAYFLOW_AI_API_KEY
	AIBaseURL  string `yaml:"ai_base_url"` // DAYFLOW_AI_BASE_URL (default: https://api.openai.com/v1 for openai)
	AIModel    string `yaml:"ai_model"`    // DAYFLOW_AI_MODEL (default: gpt-4o-mini / gemini-2.0-flash)

	// RateLimit is the sustained per-user request rate; RateBurst the burst size.
	RateLimit float64 `yaml:"rate_limit"` // DAYFLOW_RATE_LIMIT (default: 10)
	RateBurst int     `yaml:"rate_burst"` // DAYFLOW_RATE_BURST (default: 20)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRemoteEnabled returns true if a remote recommender provider is configured with credentials.
func (p *Profile) IsRemoteEnabled() bool {
	switch p.AIProvider {
	case "openai", "gemini":
		return p.AIAPIKey != ""
	default:
		return false
	}
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer env value", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration env value", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}

// FromEnv loads configuration from DAYFLOW_* environment variables.
// Values already set on the profile are kept when the variable is absent.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("DAYFLOW_MODE", p.Mode)
	p.Driver = getEnvOrDefault("DAYFLOW_DRIVER", p.Driver)
	p.DSN = getEnvOrDefault("DAYFLOW_DSN", p.DSN)
	p.Data = getEnvOrDefault("DAYFLOW_DATA", p.Data)
	p.Secret = getEnvOrDefault("DAYFLOW_SECRET", p.Secret)
	p.LogLevel = getEnvOrDefault("DAYFLOW_LOG_LEVEL", p.LogLevel)
	p.LogFormat = getEnvOrDefault("DAYFLOW_LOG_FORMAT", p.LogFormat)

	p.CacheBackend = getEnvOrDefault("DAYFLOW_CACHE_BACKEND", p.CacheBackend)
	p.CacheDir = getEnvOrDefault("DAYFLOW_CACHE_DIR", p.CacheDir)
	p.TaskCacheMaxEntries = getIntEnv("DAYFLOW_TASK_CACHE_MAX_ENTRIES", p.TaskCacheMaxEntries)
	p.TaskCacheTTL = getDurationEnv("DAYFLOW_TASK_CACHE_TTL", p.TaskCacheTTL)

	p.RecommendTTL = getDurationEnv("DAYFLOW_RECOMMEND_TTL", p.RecommendTTL)
	p.RecommendMaxEntries = getIntEnv("DAYFLOW_RECOMMEND_MAX_ENTRIES", p.RecommendMaxEntries)
	p.RecommendCount = getIntEnv("DAYFLOW_RECOMMEND_COUNT", p.RecommendCount)
	p.RecommendEnergyDrift = getIntEnv("DAYFLOW_RECOMMEND_ENERGY_DRIFT", p.RecommendEnergyDrift)
	p.RecommendTimeDrift = getIntEnv("DAYFLOW_RECOMMEND_TIME_DRIFT", p.RecommendTimeDrift)
	p.RecommendRemoteTimeout = getDurationEnv("DAYFLOW_RECOMMEND_REMOTE_TIMEOUT", p.RecommendRemoteTimeout)

	p.AIProvider = getEnvOrDefault("DAYFLOW_AI_PROVIDER", p.AIProvider)
	p.AIAPIKey = getEnvOrDefault("DAYFLOW_AI_API_KEY", p.AIAPIKey)
	p.AIBaseURL = getEnvOrDefault("DAYFLOW_AI_BASE_URL", p.AIBaseURL)
	p.AIModel = getEnvOrDefault("DAYFLOW_AI_MODEL", p.AIModel)
}

// ApplyDefaults fills every unset tunable with its default value.
func (p *Profile) ApplyDefaults() {
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
	if p.LogFormat == "" {
		p.LogFormat = "text"
	}
	if p.CacheBackend == "" {
		p.CacheBackend = "memory"
	}
	if p.TaskCacheMaxEntries <= 0 {
		p.TaskCacheMaxEntries = 31
	}
	if p.TaskCacheTTL <= 0 {
		p.TaskCacheTTL = 10 * time.Minute
	}
	if p.RecommendTTL <= 0 {
		p.RecommendTTL = 5 * time.Minute
	}
	if p.RecommendMaxEntries <= 0 {
		p.RecommendMaxEntries = 16
	}
	if p.RecommendCount <= 0 {
		p.RecommendCount = 3
	}
	if p.RecommendEnergyDrift <= 0 {
		p.RecommendEnergyDrift = 2
	}
	if p.RecommendTimeDrift <= 0 {
		p.RecommendTimeDrift = 30
	}
	if p.RecommendRemoteTimeout <= 0 {
		p.RecommendRemoteTimeout = 8 * time.Second
	}
	if p.AIProvider == "" {
		p.AIProvider = "none"
	}
	if p.AIModel == "" {
		switch p.AIProvider {
		case "openai":
			p.AIModel = "gpt-4o-mini"
		case "gemini":
			p.AIModel = "gemini-2.0-flash"
		}
	}
	if p.AIProvider == "openai" && p.AIBaseURL == "" {
		p.AIBaseURL = "https://api.openai.com/v1"
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 10
	}
	if p.RateBurst <= 0 {
		p.RateBurst = 20
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	p.ApplyDefaults()

	switch p.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported driver %q: only sqlite and postgres are supported", p.Driver)
	}
	switch p.CacheBackend {
	case "memory", "file", "tiered":
	default:
		return errors.Errorf("unsupported cache backend %q: use memory, file or tiered", p.CacheBackend)
	}
	switch p.AIProvider {
	case "none", "openai", "gemini":
	default:
		return errors.Errorf("unsupported ai provider %q: use none, openai or gemini", p.AIProvider)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "dayflow")
		} else {
			p.Data = "/var/opt/dayflow"
		}
		if _, err := os.Stat(p.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(p.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("dayflow_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}
	if p.CacheBackend != "memory" && p.CacheDir == "" {
		p.CacheDir = filepath.Join(dataDir, "cache")
	}

	return nil
}
