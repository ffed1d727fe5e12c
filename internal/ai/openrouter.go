// Package ai runs the LLM-driven trading agents: one bounded decision cycle
// per call, validated and executed under hard risk caps.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"

	llmTimeout     = 45 * time.Second
	llmTemperature = 0.7
	llmMaxTokens   = 500
)

// ErrLLMTimeout marks a completion call that hit the 45 s deadline.
var ErrLLMTimeout = errors.New("LLM timed out after 45s")

// OpenRouterClient calls the OpenRouter chat completions endpoint.
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

// NewOpenRouterClient creates the LLM client. An empty baseURL selects the
// production endpoint.
func NewOpenRouterClient(baseURL, apiKey string, log zerolog.Logger) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouterClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: llmTimeout,
		http:    &http.Client{},
		log:     log.With().Str("component", "openrouter").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion and returns the assistant text. The
// call is bounded by the 45 s deadline; on deadline it retries exactly once
// with a fresh request.
func (c *OpenRouterClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	content, err := c.completeOnce(ctx, model, systemPrompt, userPrompt)
	if errors.Is(err, ErrLLMTimeout) {
		c.log.Warn().Str("model", model).Msg("Completion timed out, retrying once")
		content, err = c.completeOnce(ctx, model, systemPrompt, userPrompt)
	}
	return content, err
}

func (c *OpenRouterClient) completeOnce(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrLLMTimeout
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
