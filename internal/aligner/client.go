package aligner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/maauso/scenepartner-api/internal/align"
)

// Static errors for alignment client operations.
var (
	// ErrURLRequired is returned when the endpoint URL is not provided.
	ErrURLRequired = errors.New("aligner: endpoint URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("aligner: API key is required")
	// ErrEmptyAudio is returned when Align is called without audio.
	ErrEmptyAudio = errors.New("aligner: audio is empty")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("aligner: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("aligner: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("aligner: request failed")
)

// Client aligns a transcript against audio.
type Client interface {
	// Align returns the recognized words with timings in seconds.
	Align(ctx context.Context, wav []byte, transcript string) ([]align.Word, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	url         string
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

// NewClient creates a new alignment HTTP client.
// The key can be set via WithAPIKey. If not provided, ALIGNMENT_API_KEY is
// read, then SYNTHESIS_API_KEY since both services usually share one account.
func NewClient(url string, opts ...ClientOption) (*HTTPClient, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	c := &HTTPClient{
		url:         url,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("ALIGNMENT_API_KEY")
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("SYNTHESIS_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Align uploads the WAV and transcript as multipart form data.
func (c *HTTPClient) Align(ctx context.Context, wav []byte, transcript string) ([]align.Word, error) {
	if len(wav) == 0 {
		return nil, ErrEmptyAudio
	}

	body, contentType, err := buildForm(wav, transcript)
	if err != nil {
		return nil, err
	}

	var resp alignResponse
	if err := c.doRequestWithRetry(ctx, body, contentType, &resp); err != nil {
		return nil, err
	}

	return resp.Words, nil
}

// buildForm encodes the multipart body once so retries can resend it.
func buildForm(wav []byte, transcript string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldAudio, audioFilename))
	h.Set("Content-Type", "audio/wav")

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("aligner: create audio part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("aligner: write audio part: %w", err)
	}

	if err := mw.WriteField(fieldTranscript, transcript); err != nil {
		return nil, "", fmt.Errorf("aligner: write transcript: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("aligner: close form: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, body []byte, contentType string, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("aligner: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, body, contentType, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("aligner: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, body []byte, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("aligner: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("aligner: request failed: %w", err)
		}
		return &retryableError{err: fmt.Errorf("aligner: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("aligner: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("aligner: unmarshal response: %w", err)
	}

	return nil
}

// errorMessage extracts a server-provided message, falling back to the raw body.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		switch {
		case e.Error != "":
			return e.Error
		case e.Message != "":
			return e.Message
		case e.Detail != "":
			return e.Detail
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
