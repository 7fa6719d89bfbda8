package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evermind-ai/evermind/internal/domain"
)

// Embedder calls the /embeddings endpoint of an OpenAI-compatible server.
type Embedder struct {
	client *Client
	model  string
	dims   int
}

// NewEmbedder creates an Embedder that shares the client's HTTP transport
// and circuit breaker.
func NewEmbedder(client *Client, model string, dims int) *Embedder {
	return &Embedder{client: client, model: model, dims: dims}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	data, err := e.client.doRequest(ctx, "/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding returned no data: %w", domain.ErrLLM)
	}
	return resp.Data[0].Embedding, nil
}

// Dims returns the configured embedding dimensionality.
func (e *Embedder) Dims() int {
	return e.dims
}
