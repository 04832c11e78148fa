package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for synthesis client operations.
var (
	// ErrURLRequired is returned when the endpoint URL is not provided.
	ErrURLRequired = errors.New("synth: endpoint URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("synth: SYNTHESIS_API_KEY environment variable is not set")
	// ErrNoDialogue is returned when a request has no entries.
	ErrNoDialogue = errors.New("synth: dialogue is empty")
	// ErrEmptyAudio is returned when the service answers 2xx with no audio.
	ErrEmptyAudio = errors.New("synth: empty audio returned")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("synth: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("synth: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("synth: request failed")
)

// Client synthesizes dialogue batches.
type Client interface {
	// Synthesize returns raw mono 16-bit 48 kHz PCM for the whole batch.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	url         string
	modelID     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithModelID sets the default synthesis model.
func WithModelID(id string) ClientOption {
	return func(hc *HTTPClient) {
		hc.modelID = id
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new synthesis HTTP client for the given endpoint URL.
// The API key can be set via WithAPIKey. If not provided, it is read from
// the SYNTHESIS_API_KEY environment variable.
func NewClient(url string, opts ...ClientOption) (*HTTPClient, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	c := &HTTPClient{
		url:         url,
		modelID:     DefaultModelID,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("SYNTHESIS_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Synthesize sends the batch and returns the raw PCM body.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Dialogue) == 0 {
		return nil, ErrNoDialogue
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.modelID
	}

	body, err := json.Marshal(synthesizeRequest{
		Dialogue:               req.Dialogue,
		ModelID:                modelID,
		OutputFormat:           OutputFormat,
		ApplyTextNormalization: ApplyTextNormalization,
	})
	if err != nil {
		return nil, fmt.Errorf("synth: marshal request: %w", err)
	}

	pcm, err := c.doRequestWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	return pcm, nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("synth: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		out, err := c.doRequest(ctx, body)
		if err == nil {
			return out, nil
		}

		if !isRetryable(err) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("synth: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("synth: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synth: request failed: %w", err)
		}
		return nil, &retryableError{err: fmt.Errorf("synth: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("synth: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
	}

	return respBody, nil
}

// errorMessage extracts a server-provided message, falling back to the raw body.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(body)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
