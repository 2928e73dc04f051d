// Package retrieval implements the remote EmbeddingClient, the in-memory
// VectorIndex and its content-addressed binary serialization, and the
// fingerprint computation that ties a built index to the exact
// parsing-rules + catalog + retriever-model combination that produced it
// (§4.3, §4.4, §4.5).
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// HTTPEmbeddingClient implements domain.EmbeddingClient against a remote
// feature-extraction + cross-encoder-scoring endpoint. Transient failures
// (5xx, timeouts, rate limits) are retried with exponential backoff up to
// a configured max elapsed time; a gobreaker.CircuitBreaker trips after
// repeated failures so a degraded endpoint cannot stall every request,
// mirroring the teacher's ResilientExternalClient wrapping pattern.
type HTTPEmbeddingClient struct {
	cfg     domain.EmbeddingConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewHTTPEmbeddingClient builds a client from cfg. A positive
// cfg.RateLimitPerSec caps outbound request rate with a token bucket
// sized to one second of burst, so a batch of catalog-sized requests
// can't overrun the endpoint's own rate limit and trip retries needlessly.
func NewHTTPEmbeddingClient(cfg domain.EmbeddingConfig, logger *logrus.Logger) *HTTPEmbeddingClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-client",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), int(math.Ceil(cfg.RateLimitPerSec)))
	}

	return &HTTPEmbeddingClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResponse struct {
	Logits []float64 `json:"logits"`
}

// Embed returns L2-normalized embeddings for texts, batched at
// EmbedBatchSize, retried with exponential backoff on transient failure.
func (c *HTTPEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := c.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *HTTPEmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := c.withRetry(ctx, func(ctx context.Context) (interface{}, error) {
		return c.breaker.Execute(func() (interface{}, error) {
			return c.doEmbed(ctx, texts)
		})
	})
	if err != nil {
		return nil, err
	}
	vectors := result.([][]float32)
	for _, v := range vectors {
		normalizeL2(v)
	}
	return vectors, nil
}

func (c *HTTPEmbeddingClient) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retryableError{cause: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return parsed.Embeddings, nil
}

// ScorePairs scores (query, document) pairs via the cross-encoder
// endpoint, transforming logits to [0,1] via the logistic function.
func (c *HTTPEmbeddingClient) ScorePairs(ctx context.Context, query string, documents []string) ([]float64, error) {
	batchSize := c.cfg.ScoreBatchSize
	if batchSize <= 0 {
		batchSize = len(documents)
	}

	out := make([]float64, 0, len(documents))
	for start := 0; start < len(documents); start += batchSize {
		end := start + batchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := documents[start:end]

		logits, err := c.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		for _, l := range logits {
			out = append(out, sigmoid(l))
		}
	}
	return out, nil
}

func (c *HTTPEmbeddingClient) scoreBatch(ctx context.Context, query string, documents []string) ([]float64, error) {
	result, err := c.withRetry(ctx, func(ctx context.Context) (interface{}, error) {
		return c.breaker.Execute(func() (interface{}, error) {
			return c.doScore(ctx, query, documents)
		})
	})
	if err != nil {
		return nil, err
	}
	return result.([]float64), nil
}

func (c *HTTPEmbeddingClient) doScore(ctx context.Context, query string, documents []string) ([]float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(scoreRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/score_pairs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retryableError{cause: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	return parsed.Logits, nil
}

func (c *HTTPEmbeddingClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// retryableError marks a failure as transient (network error, 5xx,
// rate-limited) so withRetry keeps retrying; any other error is treated
// as permanent and returned immediately.
type retryableError struct {
	cause error
}

func (e retryableError) Error() string { return e.cause.Error() }
func (e retryableError) Unwrap() error { return e.cause }

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	err := fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(body))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return retryableError{cause: err}
	}
	return err
}

// withRetry retries fn with exponential backoff while the returned error
// is a retryableError, up to MaxElapsed total. On exhaustion, wraps the
// last error as domain.ErrRemoteFailure.
func (c *HTTPEmbeddingClient) withRetry(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
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

		var retryable retryableError
		if !asRetryable(err, &retryable) {
			return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "remote embedding call failed", err)
		}
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
		c.logger.WithError(lastErr).Warn("embedding client exhausted retries")
	}
	return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "remote embedding call failed after retries", lastErr)
}

func asRetryable(err error, target *retryableError) bool {
	re, ok := err.(retryableError)
	if ok {
		*target = re
		return true
	}
	return false
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func normalizeL2(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

var _ domain.EmbeddingClient = (*HTTPEmbeddingClient)(nil)
