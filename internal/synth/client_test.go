package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maauso/scenepartner-api/internal/script"
)

func testDialogue() []script.DialogueEntry {
	return []script.DialogueEntry{
		{Text: "Hello there.", VoiceID: "v1", LineIndex: 0},
		{Text: "General Kenobi.", VoiceID: "v2", LineIndex: 2},
	}
}

func newTestClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	c, err := NewClient(url,
		WithAPIKey("test-key"),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewClient_MissingURL(t *testing.T) {
	t.Setenv("SYNTHESIS_API_KEY", "test-key")

	_, err := NewClient("")
	if !errors.Is(err, ErrURLRequired) {
		t.Errorf("expected ErrURLRequired, got %v", err)
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	t.Setenv("SYNTHESIS_API_KEY", "")

	_, err := NewClient("http://synth.local")
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_APIKeyFromEnv(t *testing.T) {
	t.Setenv("SYNTHESIS_API_KEY", "env-key")

	c, err := NewClient("http://synth.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.apiKey != "env-key" {
		t.Errorf("expected apiKey 'env-key', got %q", c.apiKey)
	}
}

func TestNewClient_WithAPIKeyOptionOverridesEnv(t *testing.T) {
	t.Setenv("SYNTHESIS_API_KEY", "env-key")

	c, err := NewClient("http://synth.local", WithAPIKey("explicit"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.apiKey != "explicit" {
		t.Errorf("expected apiKey 'explicit', got %q", c.apiKey)
	}
}

func TestSynthesize_Success(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}

		var body synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body.OutputFormat != OutputFormat {
			t.Errorf("expected outputFormat %q, got %q", OutputFormat, body.OutputFormat)
		}
		if body.ApplyTextNormalization != ApplyTextNormalization {
			t.Errorf("expected applyTextNormalization %q, got %q", ApplyTextNormalization, body.ApplyTextNormalization)
		}
		if body.ModelID != DefaultModelID {
			t.Errorf("expected default model, got %q", body.ModelID)
		}
		if len(body.Dialogue) != 2 || body.Dialogue[1].LineIndex != 2 || body.Dialogue[1].VoiceID != "v2" {
			t.Errorf("unexpected dialogue: %+v", body.Dialogue)
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pcm)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	got, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(pcm) {
		t.Errorf("expected %v, got %v", pcm, got)
	}
}

func TestSynthesize_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body synthesizeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ModelID != "custom" {
			t.Errorf("expected model 'custom', got %q", body.ModelID)
		}
		_, _ = w.Write([]byte{0, 0})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue(), ModelID: "custom"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSynthesize_EmptyDialogue(t *testing.T) {
	c := newTestClient(t, "http://synth.local")

	_, err := c.Synthesize(context.Background(), Request{})
	if !errors.Is(err, ErrNoDialogue) {
		t.Errorf("expected ErrNoDialogue, got %v", err)
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()})
	if !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestSynthesize_ErrorMessageFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"voice not found"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if want := "synth: request failed with status 400: voice not found"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestRetry_TransientFailure(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte{9, 9})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetry_RateLimitedExhausted(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Synthesize(context.Background(), Request{Dialogue: testDialogue()}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithAPIKey("k"), WithBaseBackoff(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Synthesize(ctx, Request{Dialogue: testDialogue()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 3 * time.Second}

	c, err := NewClient("http://synth.local", WithAPIKey("k"), WithHTTPClient(custom))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.httpClient != custom {
		t.Error("expected custom HTTP client to be used")
	}
}
