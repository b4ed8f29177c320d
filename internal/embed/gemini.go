package embed

import (
	"context"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/google/generative-ai-go/genai"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, goerr.Wrap(memory.ErrInvalidInput, "API key is required", goerr.V("provider", "gemini"))
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}

	if model == "" {
		model = "text-embedding-004"
	}

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

func (p *Gemini) Name() string {
	return "gemini"
}

func (p *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, goerr.Wrap(err, "gemini embeddings", goerr.V("model", p.model))
	}
	if res.Embedding == nil {
		return nil, goerr.New("gemini returned no embedding", goerr.V("model", p.model))
	}
	return res.Embedding.Values, nil
}

func (p *Gemini) Close() error {
	return p.client.Close()
}
