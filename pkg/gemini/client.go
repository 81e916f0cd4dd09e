// Package gemini is a REST client for the Gemini embedContent and
// generateContent endpoints.
package gemini

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

const (
	providerName = "gemini"

	// DefaultBaseURL is the public v1beta endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Client calls the Gemini API with an API key.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	genModel   string
	client     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a Gemini client.
func New(apiKey, embedModel, genModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type embedReq struct {
	Content content `json:"content"`
}

type embedResp struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResp
	path := fmt.Sprintf("/models/%s:embedContent", c.embedModel)
	if err := c.post(ctx, "embed", path, embedReq{Content: content{Parts: []part{{Text: text}}}}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Op: "embed", Detail: "response missing embedding.values", Wrapped: domain.ErrEmptyVector}
	}
	return out.Embedding.Values, nil
}

type generateReq struct {
	Contents []content `json:"contents"`
}

type generateResp struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate returns the first candidate's text for prompt. An empty model
// uses the client's default generation model.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = c.genModel
	}
	var out generateResp
	path := fmt.Sprintf("/models/%s:generateContent", model)
	if err := c.post(ctx, "generate", path, generateReq{Contents: []content{{Parts: []part{{Text: prompt}}}}}, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 ||
		strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text) == "" {
		return "", &domain.ProviderError{Provider: providerName, Op: "generate", Detail: "response missing text", Wrapped: domain.ErrEmptyAnswer}
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
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
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewProviderError(providerName, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.ProviderError{Provider: providerName, Op: op, Status: resp.StatusCode, Detail: errorDetail(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewProviderError(providerName, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// errorDetail prefers the structured API message over the raw body.
func errorDetail(raw []byte) string {
	var e apiError
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		if e.Error.Status != "" {
			return e.Error.Status + ": " + e.Error.Message
		}
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
