// Package ollama is an Ollama HTTP client for embeddings and text generation.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/secondbrain/brain/engine/domain"
)

const providerName = "ollama"

// Client calls a local or remote Ollama server.
type Client struct {
	baseURL    string
	embedModel string
	genModel   string
	client     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates an Ollama client. genModel is used when Generate is called
// without a model.
func New(baseURL, embedModel, genModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		genModel:   genModel,
		client:     &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the provider in errors and metrics.
func (c *Client) Name() string { return providerName }

// Model returns the embedding model.
func (c *Client) Model() string { return c.embedModel }

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResp
	if err := c.post(ctx, "embed", "/api/embeddings", embedReq{Model: c.embedModel, Prompt: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Op: "embed", Detail: "response missing embedding", Wrapped: domain.ErrEmptyVector}
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

type generateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResp struct {
	Response string `json:"response"`
}

// Generate runs a non-streaming completion of prompt.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = c.genModel
	}
	var out generateResp
	if err := c.post(ctx, "generate", "/api/generate", generateReq{Model: model, Prompt: prompt}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", &domain.ProviderError{Provider: providerName, Op: "generate", Detail: "response missing text", Wrapped: domain.ErrEmptyAnswer}
	}
	return out.Response, nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.NewProviderError(providerName, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.NewProviderError(providerName, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewProviderError(providerName, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.ProviderError{Provider: providerName, Op: op, Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewProviderError(providerName, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}
