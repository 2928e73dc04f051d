package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// HTTPLLMClient implements LLMClient against an OpenAI-compatible chat
// completion endpoint, using the same retry/circuit-breaker shape as
// retrieval.HTTPEmbeddingClient.
type HTTPLLMClient struct {
	cfg     domain.EmbeddingConfig
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewHTTPLLMClient builds an HTTPLLMClient. cfg.BaseURL/APIKey/Timeout are
// reused from the embedding endpoint config since both are remote
// inference calls configured the same way; model selects the chat model.
func NewHTTPLLMClient(cfg domain.EmbeddingConfig, model string, logger *logrus.Logger) *HTTPLLMClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-reranker-client",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &HTTPLLMClient{
		cfg:     cfg,
		model:   model,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Complete sends prompt as a single user message and returns the first
// choice's content, retrying transient failures with exponential backoff.
func (c *HTTPLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.withRetry(ctx, func(ctx context.Context) (interface{}, error) {
		return c.breaker.Execute(func() (interface{}, error) {
			return c.doComplete(ctx, prompt)
		})
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPLLMClient) doComplete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", llmRetryableError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		respErr := fmt.Errorf("LLM endpoint returned %d: %s", resp.StatusCode, string(b))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", llmRetryableError{cause: respErr}
		}
		return "", respErr
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("LLM endpoint returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

type llmRetryableError struct {
	cause error
}

func (e llmRetryableError) Error() string { return e.cause.Error() }
func (e llmRetryableError) Unwrap() error { return e.cause }

func (c *HTTPLLMClient) withRetry(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	maxElapsed := c.cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 60 * time.Second
	}
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	deadline := time.Now().Add(maxElapsed)
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		retryable, ok := err.(llmRetryableError)
		if !ok {
			return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "LLM reranker call failed", err)
		}
		_ = retryable
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	if c.logger != nil {
		c.logger.WithError(lastErr).Warn("LLM reranker client exhausted retries")
	}
	return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "LLM reranker call failed after retries", lastErr)
}

var _ LLMClient = (*HTTPLLMClient)(nil)
