package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Session store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendFile     = "file"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Matching   MatchingConfig   `yaml:"matching"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type StorageConfig struct {
	SessionBackend string `yaml:"session_backend"`
	SQLitePath     string `yaml:"sqlite_path"`
	MySQLDSN       string `yaml:"mysql_dsn"` // e.g. attendance:secret@tcp(mariadb:3306)/attendance?parseTime=true
	GalleryBackend string `yaml:"gallery_backend"`
	GalleryPath    string `yaml:"gallery_path"`
}

type EmbeddingConfig struct {
	URL             string `yaml:"url"` // defaults to http://localhost:8000
	Dim             int    `yaml:"dim"` // defaults to 128
	DetectorEnabled bool   `yaml:"detector_enabled"`
	CacheSize       int    `yaml:"cache_size"` // responses kept per image hash, 0 disables
}

type MatchingConfig struct {
	Threshold      float64 `yaml:"threshold"`
	CandidateLimit int     `yaml:"candidate_limit"`
}

type AttendanceConfig struct {
	Cooldown               time.Duration `yaml:"cooldown"`
	RequireExitBeforeEntry bool          `yaml:"require_exit_before_entry"`
}

type WebConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	MaxImageSide   int    `yaml:"max_image_side"`

	// Origins allowed to call the API from a browser; localhost is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float, falling back on parse errors.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("2h", "90m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load builds the configuration from the embedded defaults, the optional
// CONFIG_FILE overlay and the environment, in that order.
func Load() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from trusted env
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Storage.SessionBackend == "" {
		if cfg.Database.URL != "" {
			cfg.Storage.SessionBackend = BackendPostgres
		} else {
			cfg.Storage.SessionBackend = BackendSQLite
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Storage.SessionBackend = strings.ToLower(envString("SESSION_BACKEND", c.Storage.SessionBackend))
	c.Storage.SQLitePath = envString("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.MySQLDSN = envString("MYSQL_DSN", c.Storage.MySQLDSN)
	c.Storage.GalleryBackend = strings.ToLower(envString("GALLERY_BACKEND", c.Storage.GalleryBackend))
	c.Storage.GalleryPath = envString("GALLERY_PATH", c.Storage.GalleryPath)

	c.Embedding.URL = envString("EMBEDDING_URL", c.Embedding.URL)
	c.Embedding.Dim = envInt("EMBEDDING_DIM", c.Embedding.Dim)
	c.Embedding.DetectorEnabled = envBool("DETECTOR_ENABLED", c.Embedding.DetectorEnabled)

	c.Matching.Threshold = envFloat("MATCH_THRESHOLD", c.Matching.Threshold)

	c.Attendance.Cooldown = envDuration("ATTENDANCE_COOLDOWN", c.Attendance.Cooldown)
	c.Attendance.RequireExitBeforeEntry = envBool("REQUIRE_EXIT_BEFORE_ENTRY", c.Attendance.RequireExitBeforeEntry)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	// PORT is what most PaaS runtimes inject; WEB_PORT wins when both are set.
	c.Web.Port = envInt("PORT", c.Web.Port)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.MaxUploadBytes = int64(envInt("WEB_MAX_UPLOAD_BYTES", int(c.Web.MaxUploadBytes)))
	c.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", c.Web.AllowedOrigins)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.SessionBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("SESSION_BACKEND=postgres requires DATABASE_URL"))
		}
	case BackendMySQL:
		if c.Storage.MySQLDSN == "" {
			errs = append(errs, errors.New("SESSION_BACKEND=mysql requires MYSQL_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Storage.SessionBackend))
	}

	switch c.Storage.GalleryBackend {
	case BackendFile:
		if c.Storage.GalleryPath == "" {
			errs = append(errs, errors.New("GALLERY_BACKEND=file requires GALLERY_PATH"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("GALLERY_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gallery backend %q", c.Storage.GalleryBackend))
	}

	if !(c.Matching.Threshold > 0 && c.Matching.Threshold < 1) {
		errs = append(errs, fmt.Errorf("match threshold must be between 0 and 1, got %v", c.Matching.Threshold))
	}
	if c.Embedding.Dim <= 0 {
		errs = append(errs, fmt.Errorf("embedding dim must be positive, got %d", c.Embedding.Dim))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the web server.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}
