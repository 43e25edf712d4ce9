package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/framescope/internal/score"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Video     VideoConfig     `mapstructure:"video"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CORS           CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// DatabaseConfig configures the upload job ledger.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

// IndexConfig selects the similarity index backend.
type IndexConfig struct {
	Driver   string         `mapstructure:"driver"` // memory, qdrant or pgvector
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Pgvector PgvectorConfig `mapstructure:"pgvector"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type PgvectorConfig struct {
	URL      string `mapstructure:"url"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type VideoConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

type SamplerConfig struct {
	FrameRate float64 `mapstructure:"frame_rate"`
}

type IngestConfig struct {
	Workers   int    `mapstructure:"workers"`
	BatchSize int    `mapstructure:"batch_size"`
	TempDir   string `mapstructure:"temp_dir"`
}

type SnapshotConfig struct {
	Quality      int  `mapstructure:"quality"`
	MaxEdge      int  `mapstructure:"max_edge"`
	EmbedMaxEdge int  `mapstructure:"embed_max_edge"`
	Offload      bool `mapstructure:"offload"` // store snapshots in object storage instead of the index
}

// StorageConfig configures S3-compatible object storage for snapshots.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible or memory
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type SearchConfig struct {
	DefaultTopK int           `mapstructure:"default_top_k"`
	MaxTopK     int           `mapstructure:"max_top_k"`
	Calibration []score.Knot  `mapstructure:"calibration_knots"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from configPath (or ./configs/config.yaml), then
// environment variables. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and common deployment overrides
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.environment", "APP_ENV")
	v.BindEnv("log.file", "LOG_FILE")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("index.driver", "INDEX_DRIVER")
	v.BindEnv("index.qdrant.host", "QDRANT_HOST")
	v.BindEnv("index.qdrant.port", "QDRANT_PORT")
	v.BindEnv("index.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("index.pgvector.url", "PGVECTOR_URL")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("storage.region", "S3_REGION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Embedding.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_bytes", int64(512<<20))
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
	v.SetDefault("log.file", "/var/log/framescope/app.log")
	v.SetDefault("log.file_only", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/framescope.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("index.driver", "memory")
	v.SetDefault("index.qdrant.host", "localhost")
	v.SetDefault("index.qdrant.port", 6334)
	v.SetDefault("index.qdrant.collection", "frames")
	v.SetDefault("index.qdrant.use_tls", false)
	v.SetDefault("index.pgvector.table", "frames")
	v.SetDefault("index.pgvector.max_conns", 10)

	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-clip-v2")
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", 60*time.Second)

	v.SetDefault("sampler.frame_rate", 3.0)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.batch_size", 64)
	v.SetDefault("ingest.temp_dir", "")

	v.SetDefault("snapshot.quality", 85)
	v.SetDefault("snapshot.max_edge", 0)
	v.SetDefault("snapshot.embed_max_edge", 512)
	v.SetDefault("snapshot.offload", false)

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "framescope")

	v.SetDefault("search.default_top_k", 3)
	v.SetDefault("search.max_top_k", 100)
	v.SetDefault("search.timeout", 30*time.Second)
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.Sampler.FrameRate <= 0 {
		return fmt.Errorf("sampler.frame_rate must be positive, got %v", c.Sampler.FrameRate)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be at least 1, got %d", c.Ingest.BatchSize)
	}
	if c.Snapshot.Quality < 1 || c.Snapshot.Quality > 100 {
		return fmt.Errorf("snapshot.quality must be within 1..100, got %d", c.Snapshot.Quality)
	}
	if c.Search.DefaultTopK < 1 {
		return fmt.Errorf("search.default_top_k must be at least 1, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.max_top_k (%d) must be >= search.default_top_k (%d)", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if len(c.Search.Calibration) > 0 {
		if _, err := score.NewCalibrator(c.Search.Calibration); err != nil {
			return fmt.Errorf("search.calibration_knots: %w", err)
		}
	}

	switch c.Index.Driver {
	case "memory":
	case "qdrant":
		if c.Index.Qdrant.Host == "" || c.Index.Qdrant.Collection == "" {
			return fmt.Errorf("index.qdrant.host and index.qdrant.collection are required")
		}
	case "pgvector":
		if c.Index.Pgvector.URL == "" {
			return fmt.Errorf("index.pgvector.url is required")
		}
	default:
		return fmt.Errorf("unknown index.driver %q", c.Index.Driver)
	}

	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Snapshot.Offload && c.Storage.Bucket == "" {
		return fmt.Errorf("snapshot.offload requires storage.bucket")
	}

	return c.Embedding.Validate()
}

// Calibrator builds the score calibrator from the configured knots, falling
// back to the default curve.
func (c *Config) Calibrator() (*score.Calibrator, error) {
	if len(c.Search.Calibration) == 0 {
		return score.Default(), nil
	}
	return score.NewCalibrator(c.Search.Calibration)
}
