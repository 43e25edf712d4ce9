package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/framescope/internal/domain"
)

const (
	defaultJinaBaseURL = "https://api.jina.ai/v1"
	defaultJinaModel   = "jina-clip-v2"

	// JPEG quality used when shipping frames to the embedding API.
	uploadQuality = 90
)

// JinaConfig holds configuration for the Jina CLIP embedder.
type JinaConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// JinaEmbedder calls the Jina embeddings API with a CLIP model, which places
// images and text in one space.
type JinaEmbedder struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewJinaEmbedder creates a new Jina CLIP embedder.
func NewJinaEmbedder(cfg *JinaConfig) (*JinaEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("jina api key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	model := cfg.Model
	if model == "" {
		model = defaultJinaModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &JinaEmbedder{
		client:     client,
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model returns the model name being used.
func (e *JinaEmbedder) Model() string {
	return e.model
}

// Dimensions returns the configured vector size.
func (e *JinaEmbedder) Dimensions() int {
	return e.dimensions
}

// Jina API request/response structures
type jinaInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type jinaRequest struct {
	Model         string      `json:"model"`
	Task          string      `json:"task,omitempty"`
	Dimensions    int         `json:"dimensions,omitempty"`
	Normalized    bool        `json:"normalized"`
	EmbeddingType string      `json:"embedding_type,omitempty"`
	Input         []jinaInput `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// EmbedImage embeds a single frame.
func (e *JinaEmbedder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: uploadQuality}); err != nil {
		return nil, fmt.Errorf("%w: failed to encode frame: %v", domain.ErrEmbeddingFailure, err)
	}

	return e.embed(ctx, jinaInput{Image: base64.StdEncoding.EncodeToString(buf.Bytes())}, "")
}

// EmbedText embeds a search query.
func (e *JinaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, jinaInput{Text: text}, "retrieval.query")
}

func (e *JinaEmbedder) embed(ctx context.Context, input jinaInput, task string) ([]float32, error) {
	req := jinaRequest{
		Model:         e.model,
		Task:          task,
		Dimensions:    e.dimensions,
		Normalized:    true,
		EmbeddingType: "float",
		Input:         []jinaInput{input},
	}

	var resp jinaResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call Jina API: %v", domain.ErrEmbeddingFailure, err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		if resp.Detail != "" {
			return nil, fmt.Errorf("%w: Jina API error: %s", domain.ErrEmbeddingFailure, resp.Detail)
		}
		return nil, fmt.Errorf("%w: Jina API error: status %d", domain.ErrEmbeddingFailure, httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrEmbeddingFailure)
	}

	return Normalize(resp.Data[0].Embedding, e.dimensions)
}
