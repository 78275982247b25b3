package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Web       WebConfig
	Notify    NotifyConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, mariadb or sqlite
	URL          string // DSN for the selected driver
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL string // face embedding server, defaults to http://localhost:8000
	Dim int    // expected vector length, defaults to 128
}

type MatchingConfig struct {
	Threshold         float64       // minimum confidence, exclusive
	DetectionTimeout  time.Duration // budget for detect+embed during ingest
	MaxEdge           int           // frames are downscaled to this longest edge before detection
	IndexSnapshotPath string        // optional warm-start file for the in-memory index
}

type WebConfig struct {
	MaxUploadBytes int64
}

type NotifyConfig struct {
	NATSURL       string // empty disables publishing
	SubjectPrefix string
}

type LogConfig struct {
	Level      string
	Format     string // json or text
	File       string // optional rotating log file
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // days
}

// fileDefaults mirrors defaults.yaml.
type fileDefaults struct {
	Database struct {
		Driver       string `yaml:"driver"`
		URL          string `yaml:"url"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Embedding struct {
		URL string `yaml:"url"`
		Dim int    `yaml:"dim"`
	} `yaml:"embedding"`
	Matching struct {
		Threshold        float64 `yaml:"threshold"`
		DetectionTimeout string  `yaml:"detection_timeout"`
		MaxEdge          int     `yaml:"max_edge"`
	} `yaml:"matching"`
	Web struct {
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	} `yaml:"web"`
	Notify struct {
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"notify"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
	} `yaml:"log"`
}

var supportedDrivers = map[string]struct{}{
	"postgres": {},
	"mariadb":  {},
	"sqlite":   {},
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

// envFloat reads an environment variable as a float64.
// Returns the default value if the env var is unset, empty, or invalid.
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

// envDuration reads an environment variable in time.ParseDuration format.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
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

func loadDefaults() fileDefaults {
	var d fileDefaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	detectionTimeout, err := time.ParseDuration(d.Matching.DetectionTimeout)
	if err != nil {
		panic("invalid detection_timeout in embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:       envString("DATABASE_DRIVER", d.Database.Driver),
			URL:          envString("DATABASE_URL", d.Database.URL),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", d.Embedding.URL),
			Dim: envInt("EMBEDDING_DIM", d.Embedding.Dim),
		},
		Matching: MatchingConfig{
			Threshold:         envFloat("MATCH_THRESHOLD", d.Matching.Threshold),
			DetectionTimeout:  envDuration("DETECTION_TIMEOUT", detectionTimeout),
			MaxEdge:           envInt("VISION_MAX_EDGE", d.Matching.MaxEdge),
			IndexSnapshotPath: os.Getenv("INDEX_SNAPSHOT_PATH"),
		},
		Web: WebConfig{
			MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", int(d.Web.MaxUploadBytes))),
		},
		Notify: NotifyConfig{
			NATSURL:       os.Getenv("NATS_URL"),
			SubjectPrefix: envString("NATS_SUBJECT_PREFIX", d.Notify.SubjectPrefix),
		},
		Log: LogConfig{
			Level:      envString("LOG_LEVEL", d.Log.Level),
			Format:     envString("LOG_FORMAT", d.Log.Format),
			File:       os.Getenv("LOG_FILE"),
			MaxSize:    envInt("LOG_MAX_SIZE", d.Log.MaxSize),
			MaxBackups: envInt("LOG_MAX_BACKUPS", d.Log.MaxBackups),
			MaxAge:     envInt("LOG_MAX_AGE", d.Log.MaxAge),
		},
	}
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	if _, ok := supportedDrivers[c.Database.Driver]; !ok {
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want postgres, mariadb or sqlite)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for driver %s", c.Database.Driver)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold >= 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in [0, 1), got %v", c.Matching.Threshold)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dim)
	}
	return nil
}
