package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Embedder is the external embedding capability the engine depends on. The
// engine must keep functioning in degraded lexical-only mode whenever Embed
// returns an error or times out.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": o.model,
		"input": text,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ollama embed api")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read embed response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errors.Wrap(err, "decode embed response")
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("ollama returned no embeddings")
	}
	return result.Embeddings[0], nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// OpenAIEmbedder uses the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(apiKey, model string, dims int) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
		dims:   dims,
	}
}

func (o *OpenAIEmbedder) Model() string   { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai embeddings api")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}

// throttledEmbedder bounds the request rate against a remote provider.
type throttledEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// Throttle wraps an embedder with a requests-per-second limit. rps <= 0
// returns the embedder unchanged.
func Throttle(emb Embedder, rps float64) Embedder {
	if rps <= 0 {
		return emb
	}
	return &throttledEmbedder{
		inner:   emb,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (t *throttledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "embed rate limit")
	}
	return t.inner.Embed(ctx, text)
}

func (t *throttledEmbedder) Model() string   { return t.inner.Model() }
func (t *throttledEmbedder) Dimensions() int { return t.inner.Dimensions() }
