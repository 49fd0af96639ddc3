package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/attrdetect/internal/attribute"
	"github.com/vbonduro/attrdetect/internal/imaging"
	"github.com/vbonduro/attrdetect/internal/imaging/imagingtest"
)

func testRequest(t *testing.T) attribute.Request {
	t.Helper()
	img, err := imaging.Decode(imagingtest.JPEG(t, 512, 512))
	require.NoError(t, err)
	return attribute.Request{Prompt: attribute.Prompt, Image: img}
}

func TestGeminiGenerate(t *testing.T) {
	var calls atomic.Int32
	var got request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash-latest:generateContent", r.URL.Path)
		assert.Equal(t, "gm-test", r.Header.Get("x-goog-api-key"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "  **Gender**: Female  \n"}},
				},
				"finishReason": "STOP",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	model := NewGeminiModel("gm-test", "gemini-1.5-flash-latest", server.URL, 0)
	text, err := model.Generate(context.Background(), testRequest(t))
	require.NoError(t, err)

	// The backend returns the raw text; trimming belongs to the analyzer.
	assert.Equal(t, "  **Gender**: Female  \n", text)
	assert.Equal(t, int32(1), calls.Load())

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, attribute.Prompt, parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MimeType)

	raw, err := base64.StdEncoding.DecodeString(parts[1].InlineData.Data)
	require.NoError(t, err)
	sent, err := imaging.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 512, sent.Width())
	assert.Equal(t, 512, sent.Height())
}

func TestGeminiGenerateJoinsParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"**Mood**: "},{"text":"Calm"}]}}]}`))
	}))
	defer server.Close()

	text, err := NewGeminiModel("k", "m", server.URL, 0).Generate(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "**Mood**: Calm", text)
}

func TestGeminiQuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	_, err := NewGeminiModel("k", "m", server.URL, 0).Generate(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, attribute.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "check quota")
}

func TestGeminiAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	_, err := NewGeminiModel("", "m", server.URL, 0).Generate(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, attribute.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGeminiMalformedResponses(t *testing.T) {
	tests := map[string]string{
		"not json":      `<html>oops</html>`,
		"no candidates": `{"candidates":[]}`,
		"no text":       `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
		"blocked":       `{"promptFeedback":{"blockReason":"SAFETY"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := NewGeminiModel("k", "m", server.URL, 0).Generate(context.Background(), testRequest(t))
			assert.Error(t, err)
		})
	}
}

func TestGeminiTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewGeminiModel("k", "m", server.URL, 50*time.Millisecond).Generate(context.Background(), testRequest(t))
	assert.Error(t, err)
}

func TestGeminiNilImage(t *testing.T) {
	_, err := NewGeminiModel("k", "m", "", 0).Generate(context.Background(), attribute.Request{Prompt: "x"})
	assert.Error(t, err)
}
