package embedding

import (
	"fmt"
	"time"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// New creates the embedder named by cfg.Provider.
func New(cfg *Config) (Embedder, error) {
	switch cfg.Provider {
	case "jina", "":
		return NewJinaEmbedder(&JinaConfig{
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
