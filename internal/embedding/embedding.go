// Package embedding turns email text into vectors for semantic search.
package embedding

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mailsift/mailsift/internal/textutil"
)

// maxBodyChars caps the body portion of prepared text. Headers carry most
// of the signal; a longer tail mostly adds footer boilerplate.
const maxBodyChars = 1000

// encodeBatchSize is how many texts go to the embeddings endpoint per call.
const encodeBatchSize = 32

// PrepareEmailText builds the canonical text that gets embedded for an
// email. The body is whitespace-collapsed before truncation so blank-heavy
// HTML extractions don't eat the window.
func PrepareEmailText(subject, body, sender string) string {
	body = textutil.ClipRunes(textutil.CollapseWhitespace(body), maxBodyChars)
	return fmt.Sprintf("From: %s\nSubject: %s\n%s", sender, subject, body)
}

// DimensionError reports a vector whose width does not match the configured
// model dimension. It usually means the configured model name and dimension
// disagree.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// Encoder produces embedding vectors for email text. All vectors are
// L2-normalized so cosine distance behaves across providers.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config configures the embeddings client. BaseURL may point at any
// OpenAI-compatible server (a local model host works).
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	api       *openai.Client
	model     string
	dimension int
}

// NewClient builds an embeddings client from the config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Dimension returns the configured vector width.
func (c *Client) Dimension() int {
	return c.dimension
}

// Encode embeds a single text.
func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch embeds texts in request chunks, preserving input order.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += encodeBatchSize {
		end := i + encodeBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[i:end]

		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: chunk,
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != len(chunk) {
			return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(chunk))
		}

		for _, d := range resp.Data {
			if len(d.Embedding) != c.dimension {
				return nil, &DimensionError{Want: c.dimension, Got: len(d.Embedding)}
			}
			vecs = append(vecs, Normalize(d.Embedding))
		}
	}
	return vecs, nil
}

// Normalize scales a vector to unit length. Zero vectors come back
// unchanged. The input slice is not modified.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

var _ Encoder = (*Client)(nil)
