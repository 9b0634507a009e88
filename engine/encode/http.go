package encode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultModel is the embedding model requested from the serving
// endpoint when none is configured.
const DefaultModel = "all-minilm"

// HTTPBackend is a Backend speaking the Ollama-style embeddings API.
// The first successful request makes the server page the model in, so
// Load doubles as a reachability and model-presence probe.
type HTTPBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPBackend creates a backend for an Ollama-compatible server.
func NewHTTPBackend(baseURL, model string) *HTTPBackend {
	if model == "" {
		model = DefaultModel
	}
	return &HTTPBackend{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
}

// Load issues a probe embedding so the server loads the model before
// real traffic arrives.
func (b *HTTPBackend) Load(ctx context.Context) error {
	if _, err := b.infer(ctx, "warmup"); err != nil {
		return fmt.Errorf("load %s: %w", b.model, err)
	}
	return nil
}

// Infer returns the embedding rows for text. Servers that pre-pool
// respond with a single "embedding" row; token-level servers respond
// with an "embeddings" list. Both shapes are accepted.
func (b *HTTPBackend) Infer(ctx context.Context, text string) ([][]float32, error) {
	return b.infer(ctx, text)
}

func (b *HTTPBackend) infer(ctx context.Context, text string) ([][]float32, error) {
	body, _ := json.Marshal(embedReq{Model: b.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed decode: %w", err)
	}

	switch {
	case len(result.Embeddings) > 0:
		rows := make([][]float32, len(result.Embeddings))
		for i, row := range result.Embeddings {
			rows[i] = toFloat32(row)
		}
		return rows, nil
	case len(result.Embedding) > 0:
		return [][]float32{toFloat32(result.Embedding)}, nil
	default:
		return nil, fmt.Errorf("embed: empty response")
	}
}

func toFloat32(row []float64) []float32 {
	out := make([]float32, len(row))
	for i, v := range row {
		out[i] = float32(v)
	}
	return out
}
