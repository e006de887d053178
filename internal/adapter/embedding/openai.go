package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client is an embedder for OpenAI-compatible /embeddings endpoints
// (OpenAI, Jina, Ollama's compatibility layer).
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAI creates an embedder against api.openai.com.
func NewOpenAI(apiKeyEnv, model string, dimension, batchSize int) (*Client, error) {
	return NewCompatible(apiKeyEnv, model, "https://api.openai.com/v1", dimension, batchSize)
}

// NewJina creates an embedder against api.jina.ai.
func NewJina(apiKeyEnv, model string, dimension, batchSize int) (*Client, error) {
	return NewCompatible(apiKeyEnv, model, "https://api.jina.ai/v1", dimension, batchSize)
}

// NewOllama creates an embedder against a local Ollama instance.
func NewOllama(model, baseURL string, dimension, batchSize int) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &Client{
		apiKey:    "ollama",
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// NewCompatible creates an embedder for any OpenAI-compatible endpoint.
func NewCompatible(apiKeyEnv, model, baseURL string, dimension, batchSize int) (*Client, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Embed generates embeddings for the given texts, batching requests.
func (e *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := e.batchSize
	if batch <= 0 {
		batch = 100
	}

	var all [][]float32
	for i := 0; i < len(texts); i += batch {
		end := i + batch
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}
	return all, nil
}

func (e *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{Input: texts, Model: e.model}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", embResp.Error.Message)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(embResp.Data), len(texts))
	}

	// Responses may arrive out of order; the Index field is authoritative.
	out := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimension returns the embedding vector dimension.
func (e *Client) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model.
func (e *Client) ModelName() string {
	return e.model
}
