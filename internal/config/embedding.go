package config

import (
	"fmt"
	"os"
	"time"
)

// EmbeddingConfig configures the joint image/text embedder.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`    // only "jina" today
	Model      string        `mapstructure:"model"`       // e.g. jina-clip-v2
	APIKey     string        `mapstructure:"api_key"`     // set directly or via APIKeyEnv
	APIKeyEnv  string        `mapstructure:"api_key_env"` // name of the env var holding the key
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ResolveEnvVars loads APIKey from APIKeyEnv when no key is set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
}

// Validate checks that the embedding configuration is usable. The API key is
// checked separately by ValidateWithAPIKey since tests and the memory index
// can run without one.
func (c *EmbeddingConfig) Validate() error {
	switch c.Provider {
	case "jina":
	case "":
		return fmt.Errorf("embedding.provider is required")
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Dimensions)
	}
	return nil
}

// ValidateWithAPIKey additionally requires an API key.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		env := c.APIKeyEnv
		if env == "" {
			env = "JINA_API_KEY"
		}
		return fmt.Errorf("embedding.api_key is required (set directly or via %s)", env)
	}
	return nil
}
