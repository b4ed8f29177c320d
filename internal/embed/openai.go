package embed

import (
	"context"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, goerr.Wrap(memory.ErrInvalidInput, "API key is required", goerr.V("provider", "openai"))
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  m,
	}, nil
}

func (p *OpenAI) Name() string {
	return "openai"
}

func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: []string{text},
			Model: p.model,
		},
	)
	if err != nil {
		return nil, goerr.Wrap(err, "openai embeddings", goerr.V("model", string(p.model)))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("openai returned no embedding", goerr.V("model", string(p.model)))
	}
	return resp.Data[0].Embedding, nil
}
