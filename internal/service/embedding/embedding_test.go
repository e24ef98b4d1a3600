package embedding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/edustats/internal/config"
)

func openAIServer(t *testing.T, dims int) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, dims, req.Dimensions)

		var resp openAIResponse
		// Answer in reverse order; the provider must restore input order.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[0] = float32(len(req.Input[i]))
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIProvider(t *testing.T) {
	srv, calls := openAIServer(t, 8)

	p, err := NewOpenAIProvider("sk-test", "text-embedding-3-small", 8)
	require.NoError(t, err)
	p.WithURL(srv.URL)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0].Slice()[0])
	assert.Equal(t, float32(3), vecs[1].Slice()[0])
	assert.Equal(t, float32(2), vecs[2].Slice()[0])
	assert.Equal(t, 1, *calls)

	vec, err := p.Embed(context.Background(), "dddd")
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 8)
}

func TestOpenAIProviderChunksLargeBatches(t *testing.T) {
	srv, calls := openAIServer(t, 4)
	p, err := NewOpenAIProvider("sk-test", "m", 4)
	require.NoError(t, err)
	p.WithURL(srv.URL)

	texts := make([]string, openAIMaxBatch+3)
	for i := range texts {
		texts[i] = "x"
	}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, 2, *calls)
}

func TestOpenAIProviderErrors(t *testing.T) {
	_, err := NewOpenAIProvider("", "m", 8)
	require.Error(t, err)
	_, err = NewOpenAIProvider("sk", "m", 0)
	require.Error(t, err)

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
		}))
		defer srv.Close()

		p, _ := NewOpenAIProvider("sk-test", "m", 4)
		_, err := p.WithURL(srv.URL).Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_limit")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		srv, _ := openAIServer(t, 4)
		p, _ := NewOpenAIProvider("sk-test", "m", 8)
		_, err := p.WithURL(srv.URL).Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("missing vector", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"data":[]}`)
		}))
		defer srv.Close()

		p, _ := NewOpenAIProvider("sk-test", "m", 4)
		_, err := p.WithURL(srv.URL).Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no vector for input 0")
	})
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(24)
	ctx := context.Background()

	a, err := p.Embed(ctx, "Grade 3")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "Grade 3")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "Grade 4")
	require.NoError(t, err)

	assert.Equal(t, a.Slice(), b.Slice(), "equal text must embed equally")
	assert.NotEqual(t, a.Slice(), c.Slice())
	assert.Len(t, a.Slice(), 24)

	var sumSq float64
	for _, v := range a.Slice() {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)

	vecs, err := p.EmbedBatch(ctx, []string{"Grade 3", "Grade 4"})
	require.NoError(t, err)
	assert.Equal(t, a.Slice(), vecs[0].Slice())
	assert.Equal(t, c.Slice(), vecs[1].Slice())
}

func TestNewFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ollama.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	base := config.Config{EmbeddingDimensions: 16, EmbeddingModel: "m", OllamaModel: "mxbai-embed-large"}
	cases := []struct {
		name string
		mut  func(c *config.Config)
		want any
	}{
		{"explicit noop", func(c *config.Config) { c.EmbeddingProvider = "noop" }, &NoopProvider{}},
		{"explicit ollama", func(c *config.Config) { c.EmbeddingProvider = "ollama"; c.OllamaURL = down.URL }, &OllamaProvider{}},
		{"openai without key falls back", func(c *config.Config) { c.EmbeddingProvider = "openai" }, &NoopProvider{}},
		{"openai with key", func(c *config.Config) { c.EmbeddingProvider = "openai"; c.OpenAIAPIKey = "sk" }, &OpenAIProvider{}},
		{"auto finds ollama", func(c *config.Config) { c.EmbeddingProvider = "auto"; c.OllamaURL = ollama.URL }, &OllamaProvider{}},
		{"auto uses openai key", func(c *config.Config) {
			c.EmbeddingProvider = "auto"
			c.OllamaURL = down.URL
			c.OpenAIAPIKey = "sk"
		}, &OpenAIProvider{}},
		{"auto falls back to noop", func(c *config.Config) { c.EmbeddingProvider = "auto"; c.OllamaURL = down.URL }, &NoopProvider{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mut(&cfg)
			p := NewFromConfig(ctx, cfg, logger)
			assert.IsType(t, tc.want, p)
			assert.Equal(t, 16, p.Dimensions())
		})
	}
}
