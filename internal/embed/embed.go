// Package embed turns memory content into vectors for similarity search.
package embed

import (
	"context"
	"os"
	"strings"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

// Embedder generates a vector embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "hash", "openai").
	Name() string
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// Dimensions is only used by the hash provider.
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// CacheSize is the number of vectors memoized in front of the provider.
	// Zero disables the cache.
	CacheSize int64 `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
}

var defaultKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

func (c Config) apiKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[c.Provider]
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// New builds the configured embedder, wrapped in a cache when CacheSize > 0.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)

	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		e = NewHash(cfg.Dimensions)
	case "ollama":
		e, err = NewOllama(cfg.BaseURL, cfg.Model)
	case "openai":
		e, err = NewOpenAI(cfg.apiKey(), cfg.BaseURL, cfg.Model)
	case "gemini":
		e, err = NewGemini(ctx, cfg.apiKey(), cfg.Model)
	default:
		return nil, goerr.Wrap(memory.ErrInvalidInput, "unknown embedding provider", goerr.V("provider", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		return NewCached(e, cfg.CacheSize)
	}
	return e, nil
}
