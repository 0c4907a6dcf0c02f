package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, dims int, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/embeddings":
			var req embedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if status != http.StatusOK {
				http.Error(w, "model not loaded", status)
				return
			}
			vec := make([]float64, dims)
			for i := range vec {
				vec[i] = float64(i) / float64(dims)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_Embed(t *testing.T) {
	srv := ollamaServer(t, 8, http.StatusOK)
	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Dimensions: 8})

	vec, err := o.Embed(context.Background(), "pick up the kids")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.InDelta(t, 0.125, vec[1], 1e-6)
	assert.Equal(t, "nomic-embed-text", o.Model())
	assert.True(t, o.Health(context.Background()))
}

func TestOllama_DimensionMismatch(t *testing.T) {
	srv := ollamaServer(t, 4, http.StatusOK)
	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Dimensions: 8})

	_, err := o.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "4 dimensions")
}

func TestOllama_ServerError(t *testing.T) {
	srv := ollamaServer(t, 8, http.StatusInternalServerError)
	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Dimensions: 8})

	_, err := o.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 500")
	assert.False(t, o.Health(context.Background()))
}

func TestOllama_EmptyText(t *testing.T) {
	o := NewOllama(OllamaConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := o.Embed(context.Background(), "")
	assert.True(t, errors.Is(err, ErrEmptyText))
}

func TestHash_Deterministic(t *testing.T) {
	h := NewHash(64)
	a, err := h.Embed(context.Background(), "Soccer practice on Thursday")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "soccer PRACTICE on thursday!")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHash_SharedWordsAreCloser(t *testing.T) {
	h := NewHash(256)
	ctx := context.Background()
	q, _ := h.Embed(ctx, "dentist appointment")
	near, _ := h.Embed(ctx, "the dentist appointment is friday")
	far, _ := h.Embed(ctx, "grandma likes tea")

	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestNew(t *testing.T) {
	e, err := New(Config{Provider: ProviderHash, Dimensions: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimensions())

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
