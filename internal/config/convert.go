package config

import (
	"github.com/timmy/framescope/internal/embedding"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/storage"
)

// LoggerConfig converts the log section for logger.New.
func (c *Config) LoggerConfig(serviceName string) *logger.Config {
	return &logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		ServiceName: serviceName,
		Environment: c.Log.Environment,
		File: logger.FileConfig{
			Path:       c.Log.File,
			Only:       c.Log.FileOnly,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// EmbedderConfig converts the embedding section for embedding.New.
func (c *Config) EmbedderConfig() *embedding.Config {
	return &embedding.Config{
		Provider:   c.Embedding.Provider,
		Model:      c.Embedding.Model,
		APIKey:     c.Embedding.APIKey,
		BaseURL:    c.Embedding.BaseURL,
		Dimensions: c.Embedding.Dimensions,
		Timeout:    c.Embedding.Timeout,
	}
}

// S3Config converts the storage section for storage.NewStorage.
func (c *Config) S3Config() *storage.S3Config {
	return &storage.S3Config{
		Type:      storage.StorageType(c.Storage.Type),
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		UseSSL:    c.Storage.UseSSL,
		Bucket:    c.Storage.Bucket,
		Region:    c.Storage.Region,
		PublicURL: c.Storage.PublicURL,
	}
}
