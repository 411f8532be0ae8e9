package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond

	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 600 * time.Second

	requestMaxTokens   = 4000
	requestTemperature = 0.5
)

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a validated summary.
type Result struct {
	Content  string
	Provider string
	Usage    Usage
}

// Client generates summaries through one configured provider.
type Client struct {
	provider   ProviderConfig
	apiKey     string
	prompt     string
	validator  Validator
	httpClient *http.Client

	mu       sync.Mutex
	lastSent time.Time
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient substitutes the transport (for testing).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithAPIKey bypasses the environment lookup (for testing).
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithValidator substitutes the completeness validator.
func WithValidator(v Validator) Option {
	return func(c *Client) { c.validator = v }
}

// NewClient builds a client for the provider. The API key is read from the
// provider's environment variable; a missing key surfaces on the first
// Summarize call, not here, so read-only commands never need credentials.
func NewClient(provider ProviderConfig, prompt string, opts ...Option) (*Client, error) {
	if err := provider.Validate(); err != nil {
		return nil, fmt.Errorf("validating provider: %w", err)
	}
	readTimeout := provider.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	connectTimeout := provider.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	c := &Client{
		provider:  provider,
		apiKey:    os.Getenv(provider.APIKeyEnv),
		prompt:    prompt,
		validator: DefaultValidator(),
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provider returns the registry name of the configured provider.
func (c *Client) Provider() string { return c.provider.Name }

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Summarize sends the transcript text through the prompt template and returns
// a validated summary. Transport failures and 5xx responses are retried with
// exponential backoff up to 3 attempts; 4xx responses and validation failures
// are returned immediately.
func (c *Client) Summarize(ctx context.Context, text string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, &MissingKeyError{EnvVar: c.provider.APIKeyEnv}
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.provider.Model,
		MaxTokens:   requestMaxTokens,
		Temperature: requestTemperature,
		Messages: []chatMessage{
			{Role: "user", Content: strings.ReplaceAll(c.prompt, "{text}", text)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.waitRateLimit(ctx); err != nil {
			return Result{}, err
		}

		resp, err := c.send(ctx, body)
		if err == nil {
			return c.finish(resp)
		}
		if !retryable(err) {
			return Result{}, err
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// waitRateLimit spaces requests at the provider's minimum interval.
func (c *Client) waitRateLimit(ctx context.Context) error {
	interval := c.provider.MinInterval()
	if interval == 0 {
		return nil
	}

	c.mu.Lock()
	wait := time.Duration(0)
	if !c.lastSent.IsZero() {
		if elapsed := time.Since(c.lastSent); elapsed < interval {
			wait = interval - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// instead of stampeding when the wait expires.
	prev := c.lastSent
	reserved := time.Now().Add(wait)
	c.lastSent = reserved
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		// Give the slot back unless a later caller already queued behind it.
		c.mu.Lock()
		if c.lastSent.Equal(reserved) {
			c.lastSent = prev
		}
		c.mu.Unlock()
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) send(ctx context.Context, body []byte) (chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.BaseURL, bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chatResponse{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return chatResponse{}, &ProviderError{
			Provider: c.provider.Name,
			Status:   resp.StatusCode,
			Body:     string(respBody),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatResponse{}, &TransportError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	return parsed, nil
}

func (c *Client) finish(resp chatResponse) (Result, error) {
	if len(resp.Choices) == 0 {
		return Result{}, &ValidationError{Reason: "response has no choices"}
	}
	choice := resp.Choices[0]
	content, err := c.validator.Validate(choice.Message.Content, choice.FinishReason)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Content:  content,
		Provider: c.provider.Name,
		Usage:    resp.Usage,
	}, nil
}
