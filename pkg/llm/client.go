// Package llm contains the gateway to the external generative-text backend.
// All model calls in the service go through this client, which bounds
// concurrency, applies a per-call timeout, and retries transient failures
// with exponential backoff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors used by callers to classify gateway failures.
var (
	// ErrQuotaExceeded indicates the backend rejected the call for rate or
	// quota reasons. Retryable, with longer backoff than the default.
	ErrQuotaExceeded = errors.New("model quota exceeded")

	// ErrTimeout indicates the per-call deadline elapsed. Retryable.
	ErrTimeout = errors.New("model call timed out")

	// ErrEmptyResponse indicates the backend answered without any candidate
	// text. Not retryable; callers decide how to degrade.
	ErrEmptyResponse = errors.New("model returned empty response")
)

// Options tune a single generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Generator is the generative-text collaborator interface consumed by the
// agents. Implemented by Client; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Client calls a Gemini-style generateContent REST endpoint.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	sem        *semaphore.Weighted
}

// Config holds the gateway settings.
type Config struct {
	Endpoint      string
	Model         string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
}

// NewClient creates a gateway client. MaxConcurrent bounds the number of
// in-flight model calls across the whole process.
func NewClient(cfg Config) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Request/response shapes of the generateContent wire format.

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt to the model and returns the response text.
// Transient transport failures (5xx, quota, timeout) are retried with
// exponential backoff inside the call; the context bounds the whole attempt
// sequence.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(8*time.Second),
		backoff.WithMaxElapsedTime(2*c.timeout),
	), ctx)

	var text string
	operation := func() error {
		var err error
		text, err = c.generateOnce(ctx, prompt, opts)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrQuotaExceeded) || isRetryableStatus(err) {
			slog.Warn("Model call failed, will retry", "model", c.model, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return text, nil
}

// statusError carries a non-2xx backend status for retry classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model backend returned status %d: %s", e.code, e.body)
}

func isRetryableStatus(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 500
}

func (c *Client) generateOnce(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		reqBody.GenerationConfig = &generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
