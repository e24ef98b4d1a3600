// Package embedding turns reference catalog labels into vectors for the
// similarity index. The embedding function is a black box to the rest of
// the system: any Provider returning vectors of Dimensions() length will do.
package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/crypto/blake2b"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// ErrDimensionMismatch is returned when a backend answers with vectors of
// the wrong length for the configured index.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

const defaultOpenAIURL = "https://api.openai.com/v1/embeddings"

// OpenAIProvider generates embeddings using the OpenAI API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	dimensions int
}

// NewOpenAIProvider creates a new OpenAI embedding provider. dims is sent as
// the requested output size, which the text-embedding-3 models honor.
func NewOpenAIProvider(apiKey, model string, dims int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("embedding: openai api key is required")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding: invalid dimensions %d", dims)
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		url:        defaultOpenAIURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		dimensions: dims,
	}, nil
}

// WithURL points the provider at a compatible endpoint.
func (p *OpenAIProvider) WithURL(url string) *OpenAIProvider {
	p.url = url
	return p
}

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// openAIMaxBatch bounds the inputs sent per request.
const openAIMaxBatch = 512

// Embed generates a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings, splitting large inputs into several
// requests.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs := make([]pgvector.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatch {
		end := min(start+openAIMaxBatch, len(texts))
		chunk, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, chunk...)
	}
	return vecs, nil
}

func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	reqBody, err := json.Marshal(openAIRequest{Input: texts, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}

	var result openAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	vecs := make([]pgvector.Vector, len(texts))
	seen := make([]bool, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding: invalid index %d in response", d.Index)
		}
		if len(d.Embedding) != p.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), p.dimensions)
		}
		vecs[d.Index] = pgvector.NewVector(d.Embedding)
		seen[d.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("embedding: no vector for input %d", i)
		}
	}
	return vecs, nil
}

// NoopProvider returns deterministic unit vectors derived from a hash of the
// text. Equal labels embed equally, but distances carry no meaning. Used when
// no embedding backend is configured.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns hash-derived vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int {
	return p.dims
}

// Embed returns the hash-derived vector of text.
func (p *NoopProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector(hashVector(text, p.dims)), nil
}

// EmbedBatch returns hash-derived vectors.
func (p *NoopProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		vecs[i], _ = p.Embed(ctx, t)
	}
	return vecs, nil
}

// hashVector expands BLAKE2b output into dims components in [-1, 1) and
// normalizes the result. Never returns the zero vector, which cosine
// indexes reject.
func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	if dims == 0 {
		return vec
	}
	var sumSq float64
	for block := 0; block*16 < dims; block++ {
		h, _ := blake2b.New512(nil)
		var ctr [8]byte
		binary.LittleEndian.PutUint64(ctr[:], uint64(block)) //nolint:gosec // block is non-negative
		_, _ = h.Write(ctr[:])
		_, _ = h.Write([]byte(text))
		sum := h.Sum(nil)
		for i := 0; i < 16 && block*16+i < dims; i++ {
			u := binary.LittleEndian.Uint32(sum[i*4:])
			v := float64(u)/float64(math.MaxUint32)*2 - 1
			vec[block*16+i] = float32(v)
			sumSq += v * v
		}
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	norm := math.Sqrt(sumSq)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
