// Package ai implements HTTP clients for the upstream text generation APIs.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/hivewriter/content-motor/internal/config"
	"github.com/hivewriter/content-motor/internal/observability"
)

const defaultTimeout = 60 * time.Second

// Client calls one upstream provider API. The wire format is selected by
// the catalog kind; everything above this package sees domain.TextGenerator.
type Client struct {
	spec config.ProviderSpec
	hc   *http.Client
}

// NewFromSpec builds a client for a catalog entry. hc may be nil, in which
// case a client with a sane timeout is used.
func NewFromSpec(spec config.ProviderSpec, hc *http.Client) (*Client, error) {
	switch spec.Kind {
	case "openai", "cohere", "huggingface", "gemini":
	default:
		return nil, fmt.Errorf("op=ai.NewFromSpec provider=%s: unknown kind %q", spec.Name, spec.Kind)
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{spec: spec, hc: hc}, nil
}

// GenerateText sends the prompt to the provider and returns the raw
// completion text.
func (c *Client) GenerateText(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error) {
	switch c.spec.Kind {
	case "openai":
		return c.callOpenAI(ctx, apiKey, prompt, maxTokens, temperature)
	case "cohere":
		return c.callCohere(ctx, apiKey, prompt, maxTokens, temperature)
	case "huggingface":
		return c.callHuggingFace(ctx, apiKey, prompt, maxTokens, temperature)
	case "gemini":
		return c.callGemini(ctx, apiKey, prompt, maxTokens, temperature)
	default:
		return "", fmt.Errorf("op=ai.GenerateText provider=%s: unknown kind %q", c.spec.Name, c.spec.Kind)
	}
}

// post sends one JSON request and returns the response body on 2xx.
func (c *Client) post(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=ai.post provider=%s: %w", c.spec.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=ai.post provider=%s: %w", c.spec.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.ProviderRequestDuration.WithLabelValues(c.spec.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(c.spec.Name, "error").Inc()
		return nil, fmt.Errorf("op=ai.post provider=%s: %w", c.spec.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ProviderRequestsTotal.WithLabelValues(c.spec.Name, strconv.Itoa(resp.StatusCode)).Inc()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=ai.post provider=%s: read body: %w", c.spec.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		slog.Warn("provider returned non-2xx",
			slog.String("provider", c.spec.Name),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet))
		return nil, fmt.Errorf("op=ai.post provider=%s: status %d", c.spec.Name, resp.StatusCode)
	}
	return bodyBytes, nil
}

func (c *Client) callOpenAI(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]any{
		"model":       c.spec.Model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	raw, err := c.post(ctx, c.spec.Endpoint, headers, body)
	if err != nil {
		return "", err
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=ai.callOpenAI provider=%s: decode: %w", c.spec.Name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=ai.callOpenAI provider=%s: %w", c.spec.Name, errEmptyCompletion)
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) callCohere(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]any{
		"model":       c.spec.Model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	raw, err := c.post(ctx, c.spec.Endpoint, headers, body)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=ai.callCohere provider=%s: decode: %w", c.spec.Name, err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("op=ai.callCohere provider=%s: %w", c.spec.Name, errEmptyCompletion)
	}
	return out.Text, nil
}

func (c *Client) callHuggingFace(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error) {
	url := c.spec.Endpoint + "/" + c.spec.Model
	body := map[string]any{
		"inputs": prompt,
		"parameters": map[string]any{
			"max_new_tokens":   maxTokens,
			"temperature":      temperature,
			"return_full_text": false,
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	raw, err := c.post(ctx, url, headers, body)
	if err != nil {
		return "", err
	}
	// The inference API answers with either a bare object or a one-element
	// array depending on the model.
	var list []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0].GeneratedText == "" {
			return "", fmt.Errorf("op=ai.callHuggingFace provider=%s: %w", c.spec.Name, errEmptyCompletion)
		}
		return list[0].GeneratedText, nil
	}
	var single struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", fmt.Errorf("op=ai.callHuggingFace provider=%s: decode: %w", c.spec.Name, err)
	}
	if single.GeneratedText == "" {
		return "", fmt.Errorf("op=ai.callHuggingFace provider=%s: %w", c.spec.Name, errEmptyCompletion)
	}
	return single.GeneratedText, nil
}

func (c *Client) callGemini(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.spec.Endpoint, c.spec.Model, apiKey)
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}
	raw, err := c.post(ctx, url, nil, body)
	if err != nil {
		return "", err
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=ai.callGemini provider=%s: decode: %w", c.spec.Name, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("op=ai.callGemini provider=%s: %w", c.spec.Name, errEmptyCompletion)
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

var errEmptyCompletion = errors.New("empty completion")
