package embed

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"
)

type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama talks to baseURL, or $OLLAMA_HOST, or the local default.
func NewOllama(baseURL, model string) (*Ollama, error) {
	if model == "" {
		model = "nomic-embed-text"
	}

	if baseURL == "" {
		baseURL = "http://localhost:11434"
		if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
			baseURL = envURL
		}
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama url", goerr.V("url", baseURL))
	}

	return &Ollama{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
	}, nil
}

func (p *Ollama) Name() string {
	return "ollama"
}

func (p *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.model,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embeddings", goerr.V("model", p.model))
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
