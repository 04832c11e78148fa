package aligner

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/scenepartner-api/internal/align"
)

func newTestClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	c, err := NewClient(url, WithAPIKey("test-key"), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("", WithAPIKey("k"))
	assert.ErrorIs(t, err, ErrURLRequired)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("ALIGNMENT_API_KEY", "")
	t.Setenv("SYNTHESIS_API_KEY", "")

	_, err := NewClient("http://align.local")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewClient_KeyFallsBackToSynthesisKey(t *testing.T) {
	t.Setenv("ALIGNMENT_API_KEY", "")
	t.Setenv("SYNTHESIS_API_KEY", "shared")

	c, err := NewClient("http://align.local")
	require.NoError(t, err)
	assert.Equal(t, "shared", c.apiKey)
}

func TestNewClient_AlignmentKeyWins(t *testing.T) {
	t.Setenv("ALIGNMENT_API_KEY", "own")
	t.Setenv("SYNTHESIS_API_KEY", "shared")

	c, err := NewClient("http://align.local")
	require.NoError(t, err)
	assert.Equal(t, "own", c.apiKey)
}

func TestHTTPClient_Align(t *testing.T) {
	wav := []byte("RIFF....WAVEdata")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello there", r.FormValue("transcript"))

		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "audio/wav", hdr.Header.Get("Content-Type"))
		got, _ := io.ReadAll(f)
		assert.Equal(t, wav, got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"words":[{"text":"Hello","start":0.1,"end":0.4},{"text":"there","start":0.45,"end":0.8}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	words, err := c.Align(context.Background(), wav, "hello there")
	require.NoError(t, err)
	assert.Equal(t, []align.Word{
		{Text: "Hello", Start: 0.1, End: 0.4},
		{Text: "there", Start: 0.45, End: 0.8},
	}, words)
}

func TestHTTPClient_AlignEmptyAudio(t *testing.T) {
	c := newTestClient(t, "http://align.local")

	_, err := c.Align(context.Background(), nil, "x")
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestHTTPClient_AlignNoWords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"words":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	words, err := c.Align(context.Background(), []byte{1}, "x")
	require.NoError(t, err)
	assert.Empty(t, words)
}

func TestHTTPClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"bad audio"}`, "bad audio"},
		{"message field", `{"message":"transcript too long"}`, "transcript too long"},
		{"detail field", `{"detail":"unsupported format"}`, "unsupported format"},
		{"plain text", `nope`, "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Align(context.Background(), []byte{1}, "x")
			require.ErrorIs(t, err, ErrRequestFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "again", r.FormValue("transcript"))
		_, _ = w.Write([]byte(`{"words":[{"text":"again","start":0,"end":0.5}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	words, err := c.Align(context.Background(), []byte{1, 2}, "again")
	require.NoError(t, err)
	assert.Len(t, words, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Align(context.Background(), []byte{1}, "x")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}
